package wgpu

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/gradient.wgsl
var gradientShaderSource string

//go:embed shaders/tessellation.wgsl
var tessellationShaderSource string

//go:embed shaders/draw.wgsl
var drawShaderSource string

type shaderID uint8

const (
	shaderGradient shaderID = iota
	shaderTessellation
	shaderDraw
	numShaders
)

var shaderSources = [numShaders]struct {
	label  string
	source string
}{
	shaderGradient:     {"pls_gradient", gradientShaderSource},
	shaderTessellation: {"pls_tessellation", tessellationShaderSource},
	shaderDraw:         {"pls_draw", drawShaderSource},
}

// SPIR-V is shared by every device in the process.
var (
	spirvMu    sync.Mutex
	spirvCache [numShaders][]uint32
)

// compileSPIRV compiles the WGSL of id once and returns its SPIR-V words.
func compileSPIRV(id shaderID) ([]uint32, error) {
	spirvMu.Lock()
	defer spirvMu.Unlock()
	if words := spirvCache[id]; words != nil {
		return words, nil
	}
	src := shaderSources[id]
	bytes, err := naga.Compile(src.source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile %s: %w", src.label, err)
	}
	// SPIR-V is a stream of little-endian 32-bit words.
	words := make([]uint32, len(bytes)/4)
	for i := range words {
		words[i] = uint32(bytes[i*4]) |
			uint32(bytes[i*4+1])<<8 |
			uint32(bytes[i*4+2])<<16 |
			uint32(bytes[i*4+3])<<24
	}
	spirvCache[id] = words
	return words, nil
}

// shaderModules lazily creates one module per shader on a device.
type shaderModules struct {
	device  hal.Device
	modules [numShaders]hal.ShaderModule
}

func (s *shaderModules) get(id shaderID) (hal.ShaderModule, error) {
	if m := s.modules[id]; m != nil {
		return m, nil
	}
	words, err := compileSPIRV(id)
	if err != nil {
		return nil, err
	}
	m, err := s.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  shaderSources[id].label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %s: %w", shaderSources[id].label, err)
	}
	s.modules[id] = m
	return m, nil
}

func (s *shaderModules) destroy() {
	for i, m := range s.modules {
		if m != nil {
			s.device.DestroyShaderModule(m)
			s.modules[i] = nil
		}
	}
}
