package core

type KeyCode uint16

const (
	KEY_ENTER  KeyCode = 0x0D
	KEY_ESCAPE KeyCode = 0x1B
	KEY_SPACE  KeyCode = 0x20
	KEY_R      KeyCode = 0x52
	KEY_V      KeyCode = 0x56
)
