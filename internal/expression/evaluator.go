// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package expression evaluates server selection expressions such as
//
//	status == "connected" && "search" in tools
//
// against the state of one MCP server. Expressions are compiled against a
// typed environment, so an unknown field fails at compile time.
package expression

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/mcphub/internal/mcp"
)

// Env is the view of a server an expression sees.
type Env struct {
	Name        string   `expr:"name"`
	Status      string   `expr:"status"`
	Disabled    bool     `expr:"disabled"`
	Timeout     int      `expr:"timeout"`
	Error       string   `expr:"error"`
	Command     string   `expr:"command"`
	Args        []string `expr:"args"`
	AlwaysAllow []string `expr:"alwaysAllow"`
	Tools       []string `expr:"tools"`
	Resources   []string `expr:"resources"`
}

// hasFunc is has(list, item). "contains" is a string operator in expr.
var hasFunc = expr.Function("has",
	func(params ...any) (any, error) {
		list, _ := params[0].([]string)
		item, _ := params[1].(string)
		return slices.Contains(list, item), nil
	},
	new(func([]string, string) bool),
)

// NewEnv builds the expression environment for info.
func NewEnv(info mcp.ServerInfo) Env {
	env := Env{
		Name:     info.Name,
		Status:   string(info.Status),
		Disabled: info.Disabled,
		Timeout:  info.Timeout,
		Error:    info.Error,
	}

	var cfg struct {
		Command     string   `json:"command"`
		Args        []string `json:"args"`
		AlwaysAllow []string `json:"alwaysAllow"`
	}
	// Best effort: an invalid config leaves the fields empty.
	_ = json.Unmarshal([]byte(info.Config), &cfg)
	env.Command = cfg.Command
	env.Args = cfg.Args
	env.AlwaysAllow = cfg.AlwaysAllow

	for _, t := range info.Tools {
		env.Tools = append(env.Tools, t.Name)
	}
	for _, r := range info.Resources {
		env.Resources = append(env.Resources, r.URI)
	}
	return env
}

// Evaluator compiles and caches selection expressions. It is safe for
// concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// New creates an evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Compile checks an expression without evaluating it.
func (e *Evaluator) Compile(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

// Match reports whether info satisfies expression. The empty expression
// matches everything.
func (e *Evaluator) Match(expression string, info mcp.ServerInfo) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, NewEnv(info))
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed for %s: %w", info.Name, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out)
	}
	return matched, nil
}

// Filter returns the servers matching expression, in order.
func (e *Evaluator) Filter(expression string, servers []mcp.ServerInfo) ([]mcp.ServerInfo, error) {
	if expression == "" {
		return servers, nil
	}

	out := make([]mcp.ServerInfo, 0, len(servers))
	for _, info := range servers {
		ok, err := e.Match(expression, info)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool(), hasFunc)
	if err != nil {
		return nil, mcp.NewMCPError(mcp.ErrorCodeConfig, "Invalid server expression").
			WithDetail(err.Error()).
			WithSuggestions(
				`Fields: name, status, disabled, timeout, error, command, args, alwaysAllow, tools, resources`,
				`Example: status == "connected" && "search" in tools`,
			)
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()
	return program, nil
}

// CacheSize returns the number of compiled expressions held.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
