package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "peasy"}
	child := &cobra.Command{Use: "swap", Short: "swap cmds"}
	leaf := &cobra.Command{Use: "quote", Short: "quote a swap"}
	leaf.Flags().String("from", "", "token to sell")
	leaf.Flags().String("slippage", "", "max slippage")
	_ = leaf.MarkFlagRequired("from")
	child.AddCommand(leaf)
	root.AddCommand(child)

	s, err := Build(root, "swap quote")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "peasy swap quote" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 2 {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
	for _, f := range s.Flags {
		if (f.Name == "from") != f.Required {
			t.Fatalf("unexpected required marker: %+v", f)
		}
	}
	if _, err := Build(root, "swap run"); err == nil {
		t.Fatal("expected unknown path error")
	}
}
