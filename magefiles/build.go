//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaderSources = map[string]string{
	"assets/shaders/shader.vert": "assets/shaders/vert.spv",
	"assets/shaders/shader.frag": "assets/shaders/frag.spv",
}

// Compiles the GLSL shaders in assets/shaders to SPIR-V with glslc.
func (Build) Shaders() error {
	for src, dst := range shaderSources {
		if _, err := executeCmd("glslc", withArgs(src, "-o", dst), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the framepace binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Build engine...")
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/framepace", "."), withStream()); err != nil {
		return err
	}
	return nil
}
