// Command patchdance-demo drives the Patch Engine against an in-memory
// repository and renders the result, the way the teacher ships
// cmd/pgit-bench as a reporting binary distinct from the product CLI: this
// is demonstration/verification tooling for the engine's API, not the
// actual patchdance terminal UI or CLI front-end spec §1 places out of
// scope.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/engine"
	"github.com/patchdance-dev/patchdance/internal/repository"
	"github.com/patchdance-dev/patchdance/internal/ui"
	"github.com/patchdance-dev/patchdance/internal/ui/styles"
	"github.com/patchdance-dev/patchdance/internal/util"
)

func main() {
	root := &cobra.Command{
		Use:   "patchdance-demo",
		Short: "Exercise the patchdance Patch Engine against a scripted in-memory repository",
	}
	root.AddCommand(moveScenarioCmd())
	root.AddCommand(splitScenarioCmd())
	root.AddCommand(conflictScenarioCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.ErrorMsg(err.Error()))
		os.Exit(1)
	}
}

// fixedNow is a stand-in for time.Now(): Seed needs deterministic
// timestamps so repeated demo runs render identical relative-time output.
var fixedNow = time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

// seedMoveScenario builds spec §8 Scenario A's three-commit history:
// c1 "a\nb\nc\n", c2 flips b->B, c3 appends a trailing line.
func seedMoveScenario() (*repository.Memory, diffmodel.CommitId, diffmodel.CommitId, diffmodel.CommitId) {
	repo := repository.NewMemory()
	c1 := diffmodel.CommitId("c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1")
	c2 := diffmodel.CommitId("c2c2c2c2c2c2c2c2c2c2c2c2c2c2c2c2c2c2c2c2")
	c3 := diffmodel.CommitId("c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3")

	repo.Seed(c1, nil, "initial file", "Ada Lovelace", "ada@example.com", fixedNow,
		map[string][]byte{"file.txt": []byte("a\nb\nc\n")})
	repo.Seed(c2, []diffmodel.CommitId{c1}, "fix casing", "Ada Lovelace", "ada@example.com", fixedNow.Add(time.Hour),
		map[string][]byte{"file.txt": []byte("a\nB\nc\n")})
	repo.Seed(c3, []diffmodel.CommitId{c2}, "append trailer", "Ada Lovelace", "ada@example.com", fixedNow.Add(2*time.Hour),
		map[string][]byte{"file.txt": []byte("a\nB\nc\nd\n")})
	repo.SetBranch("main", c3)
	return repo, c1, c2, c3
}

func moveScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move-patch",
		Short: "Run spec scenario A: move the b->B hunk from c2 onto c1",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			repo, c1, c2, _ := seedMoveScenario()
			eng := engine.New(repo)

			patches, err := eng.ExtractPatches(ctx, c2)
			if err != nil {
				return err
			}
			if len(patches) == 0 {
				return fmt.Errorf("no patches extracted from %s", c2.Short())
			}
			op := diffmodel.MovePatch(patches[0].ID, c2, c1, diffmodel.AtHead())

			preview, err := eng.PreviewOperation(ctx, op)
			if err != nil {
				return err
			}
			renderPreview(preview)

			sp := ui.NewSpinner("applying move-patch")
			sp.Start()
			result, err := eng.ApplyOperation(ctx, op)
			if err != nil {
				sp.Error(err.Error())
				return err
			}
			sp.Success("operation committed")
			renderResult(result)
			return nil
		},
	}
}

func splitScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split-commit",
		Short: "Run spec scenario B: split a two-file commit into two commits",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			repo := repository.NewMemory()
			root := diffmodel.CommitId("0000000000000000000000000000000000000r")
			c1 := diffmodel.CommitId("1111111111111111111111111111111111111c")

			repo.Seed(root, nil, "root", "Grace Hopper", "grace@example.com", fixedNow,
				map[string][]byte{"foo.py": []byte("print('foo')\n")})
			repo.Seed(c1, []diffmodel.CommitId{root}, "touch foo and bar", "Grace Hopper", "grace@example.com", fixedNow.Add(time.Hour),
				map[string][]byte{
					"foo.py": []byte("print('foo')\nprint('more foo')\n"),
					"bar.py": []byte("print('bar')\n"),
				})
			repo.SetBranch("main", c1)

			eng := engine.New(repo)
			patches, err := eng.ExtractPatches(ctx, c1)
			if err != nil {
				return err
			}
			var fooPatch, barPatch diffmodel.PatchId
			for _, p := range patches {
				switch p.TargetFile {
				case "foo.py":
					fooPatch = p.ID
				case "bar.py":
					barPatch = p.ID
				}
			}

			op := diffmodel.SplitCommit(c1, []diffmodel.NewCommit{
				{Message: "foo", Patches: []diffmodel.PatchId{fooPatch}},
				{Message: "bar", Patches: []diffmodel.PatchId{barPatch}},
			})

			preview, err := eng.PreviewOperation(ctx, op)
			if err != nil {
				return err
			}
			renderPreview(preview)

			bar := ui.NewProgress("rewriting", len(preview.AffectedCommits))
			for i := range preview.AffectedCommits {
				bar.Update(i + 1)
			}
			bar.Done()

			result, err := eng.ApplyOperation(ctx, op)
			if err != nil {
				fmt.Println(styles.ErrorMsg(err.Error()))
				return err
			}
			renderResult(result)
			return nil
		},
	}
}

func conflictScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect-conflicts",
		Short: "Run spec scenario C: two patches touching the same line of the same file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			repo, _, c2, c3 := seedMoveScenario()

			eng := engine.New(repo)
			p2, err := eng.ExtractPatches(ctx, c2)
			if err != nil {
				return err
			}
			p3, err := eng.ExtractPatches(ctx, c3)
			if err != nil {
				return err
			}

			conflicts, err := eng.DetectConflicts(ctx, append(p2, p3...), c3)
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println(styles.SuccessMsg("no conflicts detected"))
				return nil
			}
			for _, c := range conflicts {
				fmt.Printf("%s %s: %s\n", styles.Conflict(c.ID), c.Kind, c.Description)
			}
			return nil
		},
	}
}

func renderPreview(p diffmodel.OperationPreview) {
	fmt.Println(styles.SectionHeader(fmt.Sprintf("preview: %d affected commit(s)", len(p.AffectedCommits))))
	for _, c := range p.Changes {
		fmt.Printf("  %s %s %s\n", styles.Hash(c.Commit.Short(), false), styles.Path(c.FilePath), styles.Mute(c.Summary))
	}
	if len(p.PotentialConflicts) > 0 {
		fmt.Println(styles.WarningMsg(fmt.Sprintf("%d potential conflict(s)", len(p.PotentialConflicts))))
	}
}

func renderResult(r diffmodel.OperationResult) {
	fmt.Println(styles.SuccessMsg(r.Message))
	for _, id := range r.NewCommitIDs {
		fmt.Printf("  new commit %s\n", styles.Hash(id.Short(), false))
	}
	fmt.Println(styles.Mute(fmt.Sprintf("rewritten at %s", util.RelativeTime(fixedNow))))
}
