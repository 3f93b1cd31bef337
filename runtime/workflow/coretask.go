package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/MIT-LCP/mitre-deid-toolkit-sub001/runtime/document"
)

// DefaultBehaviorKey is the step name whose behavior applies to steps a
// CoreTask does not name.
const DefaultBehaviorKey = "*"

// LocalAction runs or reverts a step on the client.
type LocalAction func(ctx context.Context, doc *document.DocWithMetadata) error

// StepBehavior says how a step runs.
type StepBehavior struct {
	// Local steps run on the client and never reach the backend. Rolling
	// back only local steps is virtual: no undo_through round trip.
	Local bool
	// Forward runs a local step. Nil means marking it done is enough.
	Forward LocalAction
	// Undo reverts a local step's document changes on rollback.
	Undo LocalAction
}

// CoreTask is a step behavior table. Lookups fall back to the parent table,
// then to the "*" entry anywhere along the chain.
type CoreTask struct {
	name      string
	parent    *CoreTask
	behaviors map[string]StepBehavior
}

// NewCoreTask creates an empty table.
func NewCoreTask(name string) *CoreTask {
	return &CoreTask{name: name, behaviors: map[string]StepBehavior{}}
}

// Name returns the table name.
func (c *CoreTask) Name() string { return c.name }

// Parent returns the table this one extends, or nil.
func (c *CoreTask) Parent() *CoreTask { return c.parent }

// Extend creates a child table that inherits every behavior of c.
func (c *CoreTask) Extend(name string) *CoreTask {
	child := NewCoreTask(name)
	child.parent = c
	return child
}

// Define sets the behavior of a step and returns c for chaining.
func (c *CoreTask) Define(step string, b StepBehavior) *CoreTask {
	c.behaviors[step] = b
	return c
}

// Behavior resolves the behavior of step.
func (c *CoreTask) Behavior(step string) StepBehavior {
	for t := c; t != nil; t = t.parent {
		if b, ok := t.behaviors[step]; ok {
			return b
		}
	}
	for t := c; t != nil; t = t.parent {
		if b, ok := t.behaviors[DefaultBehaviorKey]; ok {
			return b
		}
	}
	return StepBehavior{}
}

// Steps returns the step names defined anywhere along the chain, sorted.
func (c *CoreTask) Steps() []string {
	seen := map[string]bool{}
	var out []string
	for t := c; t != nil; t = t.parent {
		for name := range t.behaviors {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// BaseCoreTask sends every step to the backend except mark gold.
var BaseCoreTask = NewCoreTask("base").
	Define(DefaultBehaviorKey, StepBehavior{}).
	Define(MarkGoldStep, StepBehavior{Local: true, Forward: MarkGold, Undo: UnmarkGold})

// ReconciliationCoreTask adds the local reconciliation vote step.
var ReconciliationCoreTask = BaseCoreTask.Extend("reconciliation").
	Define(document.ReconciliationVoteStep, StepBehavior{Local: true})

var (
	coreTasksMu sync.RWMutex
	coreTasks   = map[string]*CoreTask{
		BaseCoreTask.Name():           BaseCoreTask,
		ReconciliationCoreTask.Name(): ReconciliationCoreTask,
	}
)

// RegisterCoreTask makes a table available to TaskSpec.Implementation.
func RegisterCoreTask(ct *CoreTask) {
	coreTasksMu.Lock()
	defer coreTasksMu.Unlock()
	coreTasks[ct.Name()] = ct
}

// LookupCoreTask finds a registered table by name.
func LookupCoreTask(name string) (*CoreTask, bool) {
	coreTasksMu.RLock()
	defer coreTasksMu.RUnlock()
	ct, ok := coreTasks[name]
	return ct, ok
}
