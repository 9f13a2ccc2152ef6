//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the engine in a window.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "framepace.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Renders a fixed number of frames on the software device and writes frame.png.
func (Run) Headless() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run headless...")
	if _, err := executeCmd("go", withArgs("run", ".", "framepace.headless.toml"), withStream()); err != nil {
		return err
	}
	return nil
}
