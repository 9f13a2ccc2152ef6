//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every package test with the race detector.
func (Test) All() error {
	if _, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the renderer tests only; they need neither a GPU nor a window.
func (Test) Renderer() error {
	if _, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./engine/renderer/", "./engine/renderer/software/"), withStream()); err != nil {
		return err
	}
	return nil
}
