package testkit

import (
	"context"
	"errors"
	"sync"

	"github.com/theory-cloud/cleanserverless/pkg/platform"
	"github.com/theory-cloud/cleanserverless/pkg/platform/memory"
)

// ErrInjected is returned by FailingPlatform when no explicit error is set.
var ErrInjected = errors.New("testkit: injected failure")

// FailingPlatform wraps a platform and fails chosen calls. Operations are
// named by the memory package's Op constants.
type FailingPlatform struct {
	inner platform.Platform

	mu       sync.Mutex
	counts   map[string]int
	failures map[string]failure
}

type failure struct {
	nth int
	err error
}

var _ platform.Platform = (*FailingPlatform)(nil)

func NewFailingPlatform(inner platform.Platform) *FailingPlatform {
	return &FailingPlatform{
		inner:    inner,
		counts:   map[string]int{},
		failures: map[string]failure{},
	}
}

// FailOn makes the nth call (1-based) of op return err, or ErrInjected when
// err is nil. Other calls are forwarded.
func (f *FailingPlatform) FailOn(op string, nth int, err error) *FailingPlatform {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	f.failures[op] = failure{nth: nth, err: err}
	f.mu.Unlock()
	return f
}

// Count returns how many times op was attempted, including failed calls.
func (f *FailingPlatform) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

func (f *FailingPlatform) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[op]++
	if fail, ok := f.failures[op]; ok && fail.nth == f.counts[op] {
		return fail.err
	}
	return nil
}

func (f *FailingPlatform) CreateTable(ctx context.Context, spec platform.TableSpec) (platform.TableIdentity, error) {
	if err := f.check(memory.OpCreateTable); err != nil {
		return platform.TableIdentity{}, err
	}
	return f.inner.CreateTable(ctx, spec)
}

func (f *FailingPlatform) GrantReadWrite(ctx context.Context, table platform.TableIdentity, principal platform.UnitIdentity) error {
	if err := f.check(memory.OpGrantReadWrite); err != nil {
		return err
	}
	return f.inner.GrantReadWrite(ctx, table, principal)
}

func (f *FailingPlatform) CreateUnit(ctx context.Context, spec platform.UnitSpec) (platform.UnitIdentity, error) {
	if err := f.check(memory.OpCreateUnit); err != nil {
		return platform.UnitIdentity{}, err
	}
	return f.inner.CreateUnit(ctx, spec)
}

func (f *FailingPlatform) AttachPolicy(ctx context.Context, unit platform.UnitIdentity, statement platform.Statement) error {
	if err := f.check(memory.OpAttachPolicy); err != nil {
		return err
	}
	return f.inner.AttachPolicy(ctx, unit, statement)
}

func (f *FailingPlatform) CreateAPI(ctx context.Context, logicalID, name, stage string) (platform.APIIdentity, error) {
	if err := f.check(memory.OpCreateAPI); err != nil {
		return platform.APIIdentity{}, err
	}
	return f.inner.CreateAPI(ctx, logicalID, name, stage)
}

func (f *FailingPlatform) ResolvePath(ctx context.Context, api platform.APIIdentity, pathTemplate string) (platform.NodeIdentity, error) {
	if err := f.check(memory.OpResolvePath); err != nil {
		return platform.NodeIdentity{}, err
	}
	return f.inner.ResolvePath(ctx, api, pathTemplate)
}

func (f *FailingPlatform) BindMethod(ctx context.Context, node platform.NodeIdentity, method string, target platform.UnitIdentity) error {
	if err := f.check(memory.OpBindMethod); err != nil {
		return err
	}
	return f.inner.BindMethod(ctx, node, method, target)
}
