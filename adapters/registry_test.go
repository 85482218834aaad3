package adapters

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/schmitech/orbit/core"
	"github.com/schmitech/orbit/resilience"
)

func testBreakerDefaults() core.CircuitBreakerConfig {
	return core.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
		OperationTimeout: time.Second,
		Isolation:        "none",
	}
}

func vectorDescriptor(name, collection string) core.AdapterDescriptor {
	return core.AdapterDescriptor{
		Name:           name,
		Implementation: ImplVector,
		Enabled:        true,
		Config:         map[string]interface{}{"collection": collection},
	}
}

func newTestRegistry(t *testing.T, descriptors ...core.AdapterDescriptor) (*Registry, *resilience.Manager) {
	t.Helper()
	breakers := resilience.NewManager(testBreakerDefaults(), nil, nil)
	r := NewRegistry(RegistryOptions{
		Factory:     newTestFactory(t, nil),
		Breakers:    breakers,
		Descriptors: descriptors,
	})
	return r, breakers
}

func TestRegistryGetBuildsOnceAndCaches(t *testing.T) {
	r, _ := newTestRegistry(t, vectorDescriptor("docs", "kb"))

	first, err := r.Get(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Get(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Repeated Get must return the cached instance")
	}
	if got := r.Built(); !reflect.DeepEqual(got, []string{"docs"}) {
		t.Errorf("Built: %v", got)
	}
}

func TestRegistryGetUnknownName(t *testing.T) {
	r, _ := newTestRegistry(t, vectorDescriptor("docs", "kb"))

	_, err := r.Get(context.Background(), "nope")
	if !errors.Is(err, core.ErrAdapterNotFound) {
		t.Errorf("Expected adapter not found, got %v", err)
	}
}

func TestRegistryReloadSummary(t *testing.T) {
	r, breakers := newTestRegistry(t,
		vectorDescriptor("docs", "kb"),
		vectorDescriptor("faq", "faq"),
		vectorDescriptor("legacy", "old"),
	)

	// Changed collection for docs, faq untouched, legacy dropped, wiki new.
	summary := r.Reload([]core.AdapterDescriptor{
		vectorDescriptor("docs", "kb_v2"),
		vectorDescriptor("faq", "faq"),
		vectorDescriptor("wiki", "wiki"),
	}, "")

	if !reflect.DeepEqual(summary.Added, []string{"wiki"}) {
		t.Errorf("Added: %v", summary.Added)
	}
	if !reflect.DeepEqual(summary.Removed, []string{"legacy"}) {
		t.Errorf("Removed: %v", summary.Removed)
	}
	if !reflect.DeepEqual(summary.Updated, []string{"docs"}) {
		t.Errorf("Updated: %v", summary.Updated)
	}
	if !reflect.DeepEqual(summary.Unchanged, []string{"faq"}) {
		t.Errorf("Unchanged: %v", summary.Unchanged)
	}

	if !reflect.DeepEqual(r.Names(), []string{"docs", "faq", "wiki"}) {
		t.Errorf("Names after reload: %v", r.Names())
	}
	snapshots := breakers.Snapshots()
	if _, ok := snapshots["legacy"]; ok {
		t.Error("Removed adapter must drop its breaker")
	}
	if _, ok := snapshots["wiki"]; !ok {
		t.Error("Added adapter must get a breaker")
	}
}

func TestRegistryReloadInvalidatesChangedInstance(t *testing.T) {
	r, _ := newTestRegistry(t, vectorDescriptor("docs", "kb"), vectorDescriptor("faq", "faq"))

	before, err := r.Get(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(context.Background(), "faq"); err != nil {
		t.Fatal(err)
	}

	r.Reload([]core.AdapterDescriptor{
		vectorDescriptor("docs", "kb_v2"),
		vectorDescriptor("faq", "faq"),
	}, "")

	// Changed descriptor rebuilds; unchanged one keeps its instance.
	if got := r.Built(); !reflect.DeepEqual(got, []string{"faq"}) {
		t.Errorf("Built after reload: %v", got)
	}
	after, err := r.Get(context.Background(), "docs")
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Error("Updated descriptor must produce a fresh instance")
	}
}

func TestRegistryScopedReloadLeavesOthersAlone(t *testing.T) {
	r, _ := newTestRegistry(t, vectorDescriptor("docs", "kb"), vectorDescriptor("faq", "faq"))

	summary := r.Reload([]core.AdapterDescriptor{
		vectorDescriptor("docs", "kb_v2"),
		vectorDescriptor("faq", "faq_v2"),
	}, "docs")

	if !reflect.DeepEqual(summary.Updated, []string{"docs"}) {
		t.Errorf("Updated: %v", summary.Updated)
	}
	if len(summary.Removed) != 0 {
		t.Errorf("Scoped reload must not remove others: %v", summary.Removed)
	}
	// faq keeps its old descriptor: a follow-up full reload with faq_v2
	// still reports it as updated.
	follow := r.Reload([]core.AdapterDescriptor{
		vectorDescriptor("docs", "kb_v2"),
		vectorDescriptor("faq", "faq_v2"),
	}, "")
	if !reflect.DeepEqual(follow.Updated, []string{"faq"}) {
		t.Errorf("faq must have stayed on the old descriptor: %v", follow.Updated)
	}
}

func TestDescriptorHashChangesWithContent(t *testing.T) {
	a := vectorDescriptor("docs", "kb")
	b := vectorDescriptor("docs", "kb")
	if descriptorHash(a) != descriptorHash(b) {
		t.Error("Identical descriptors must hash identically")
	}

	b.Config["max_results"] = 7
	if descriptorHash(a) == descriptorHash(b) {
		t.Error("Config change must change the hash")
	}

	c := vectorDescriptor("docs", "kb")
	c.EmbeddingProvider = "mock"
	if descriptorHash(a) == descriptorHash(c) {
		t.Error("Provider override must change the hash")
	}
}
