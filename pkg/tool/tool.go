package tool

import (
	"context"

	"github.com/ignatij/agentkernel/pkg/models"
)

// Tool is the typed call contract every side-effecting operation must
// expose. The kernel never inspects a tool body beyond this contract;
// domain packs supply the implementations.
type Tool interface {
	Name() string
	Version() string
	InputContract() *Contract
	OutputContract() *Contract
	SideEffect() models.SideEffect
	Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Body is a plain tool implementation function.
type Body func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Func adapts a Body into a Tool. This is the registration surface used by
// domain packs.
type Func struct {
	name       string
	version    string
	input      *Contract
	output     *Contract
	sideEffect models.SideEffect
	body       Body
}

func NewFunc(name, version string, input, output *Contract, sideEffect models.SideEffect, body Body) *Func {
	return &Func{
		name:       name,
		version:    version,
		input:      input,
		output:     output,
		sideEffect: sideEffect,
		body:       body,
	}
}

func (f *Func) Name() string                  { return f.name }
func (f *Func) Version() string               { return f.version }
func (f *Func) InputContract() *Contract      { return f.input }
func (f *Func) OutputContract() *Contract     { return f.output }
func (f *Func) SideEffect() models.SideEffect { return f.sideEffect }

func (f *Func) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.body(ctx, input)
}
