package chain_test

import (
	"errors"
	"testing"

	"stagewise/internal/chain"
)

func reportChain(t *testing.T) *chain.Chain {
	t.Helper()
	c, err := chain.NewBuilder("CREATED").
		Add("RUNNING", "DATA_LOADED", "data").
		Add("REPORTS", "FINISHED", "report").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

func TestForNameResolvesBothForms(t *testing.T) {
	c := reportChain(t)

	byIntermediate, err := c.ForName("RUNNING")
	if err != nil {
		t.Fatalf("ForName(RUNNING): %v", err)
	}
	byCompleted, err := c.ForName("DATA_LOADED")
	if err != nil {
		t.Fatalf("ForName(DATA_LOADED): %v", err)
	}
	if !byIntermediate.Equal(byCompleted) {
		t.Fatalf("expected both names to resolve to the same stage, got %s and %s", byIntermediate, byCompleted)
	}
	if byIntermediate.ProcessorID() != "data" {
		t.Fatalf("unexpected processor id %q", byIntermediate.ProcessorID())
	}

	start, err := c.ForName("CREATED")
	if err != nil {
		t.Fatalf("ForName(CREATED): %v", err)
	}
	if !start.IsStart() || start.Intermediate() != "" || start.ProcessorID() != "" {
		t.Fatalf("unexpected start stage %#v", start)
	}
}

func TestForNameUnknown(t *testing.T) {
	c := reportChain(t)
	if _, err := c.ForName("MISSING"); !errors.Is(err, chain.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestNavigation(t *testing.T) {
	c := reportChain(t)
	start := c.Start()

	first, err := c.Next(start)
	if err != nil {
		t.Fatalf("Next(start): %v", err)
	}
	if first.Completed() != "DATA_LOADED" {
		t.Fatalf("unexpected first stage %s", first)
	}
	last, err := c.Next(first)
	if err != nil {
		t.Fatalf("Next(first): %v", err)
	}
	if c.HasNext(last) {
		t.Fatal("expected last stage to have no next stage")
	}
	if !c.HasNext(start) || !c.HasNext(first) {
		t.Fatal("expected start and first stage to have a next stage")
	}
	if _, err := c.Next(last); !errors.Is(err, chain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage for Next(last), got %v", err)
	}
	if _, err := c.Previous(start); !errors.Is(err, chain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage for Previous(start), got %v", err)
	}
}

func TestPreviousOfNextIsIdentity(t *testing.T) {
	c, err := chain.NewBuilder("NEW").
		Add("A_RUNNING", "A_DONE", "a").
		Add("B_RUNNING", "B_DONE", "b").
		Add("C_RUNNING", "C_DONE", "c").
		Add("D_RUNNING", "D_DONE", "d").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, s := range c.Stages() {
		if !c.HasNext(s) {
			continue
		}
		next, err := c.Next(s)
		if err != nil {
			t.Fatalf("Next(%s): %v", s, err)
		}
		back, err := c.Previous(next)
		if err != nil {
			t.Fatalf("Previous(%s): %v", next, err)
		}
		if !back.Equal(s) {
			t.Fatalf("previous(next(%s)) = %s", s, back)
		}
	}
}

func TestDuplicateNamesRejected(t *testing.T) {
	cases := []struct {
		name  string
		build func() (*chain.Chain, error)
	}{
		{"intermediate equals start", func() (*chain.Chain, error) {
			return chain.NewBuilder("CREATED").Add("CREATED", "DONE", "p").Build()
		}},
		{"completed equals start", func() (*chain.Chain, error) {
			return chain.NewBuilder("CREATED").Add("RUNNING", "CREATED", "p").Build()
		}},
		{"intermediate equals own completed", func() (*chain.Chain, error) {
			return chain.NewBuilder("CREATED").Add("SAME", "SAME", "p").Build()
		}},
		{"intermediate reused later", func() (*chain.Chain, error) {
			return chain.NewBuilder("CREATED").Add("RUNNING", "LOADED", "p").Add("RUNNING", "FINISHED", "q").Build()
		}},
		{"completed reused as intermediate", func() (*chain.Chain, error) {
			return chain.NewBuilder("CREATED").Add("RUNNING", "LOADED", "p").Add("LOADED", "FINISHED", "q").Build()
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.build(); !errors.Is(err, chain.ErrDuplicateStage) {
				t.Fatalf("expected ErrDuplicateStage, got %v", err)
			}
		})
	}
}

func TestEmptyNamesRejected(t *testing.T) {
	if _, err := chain.NewBuilder("").Build(); !errors.Is(err, chain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage for empty start, got %v", err)
	}
	if _, err := chain.NewBuilder("CREATED").Add("RUNNING", "", "p").Build(); !errors.Is(err, chain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage for empty completed name, got %v", err)
	}
	if _, err := chain.NewBuilder("CREATED").Add("RUNNING", "DONE", "").Build(); !errors.Is(err, chain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage for missing processor, got %v", err)
	}
}

func TestLastCompletedStage(t *testing.T) {
	c := reportChain(t)
	cases := map[string]string{
		"CREATED":     "CREATED",
		"RUNNING":     "CREATED",
		"DATA_LOADED": "DATA_LOADED",
		"REPORTS":     "DATA_LOADED",
		"FINISHED":    "FINISHED",
	}
	for name, want := range cases {
		got, err := c.LastCompletedStage(name)
		if err != nil {
			t.Fatalf("LastCompletedStage(%s): %v", name, err)
		}
		if got != want {
			t.Fatalf("LastCompletedStage(%s) = %s, want %s", name, got, want)
		}
	}
	if _, err := c.LastCompletedStage("NOPE"); !errors.Is(err, chain.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestStagesReturnsCopy(t *testing.T) {
	c := reportChain(t)
	stages := c.Stages()
	stages[0] = stages[1]
	if !c.Start().IsStart() {
		t.Fatal("mutating the returned slice must not change the chain")
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 stages, got %d", c.Len())
	}
}

func TestMustBuildPanicsOnInvalidChain(t *testing.T) {
	c := chain.NewBuilder("CREATED").Add("RUNNING", "DONE", "data").MustBuild()
	if c.Len() != 2 {
		t.Fatalf("expected 2 stages, got %d", c.Len())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected MustBuild to panic on duplicate names")
		}
	}()
	chain.NewBuilder("CREATED").Add("CREATED", "DONE", "data").MustBuild()
}
