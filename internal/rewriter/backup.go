package rewriter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/patchdance-dev/patchdance/internal/diffmodel"
	"github.com/patchdance-dev/patchdance/internal/idgen"
	"github.com/patchdance-dev/patchdance/internal/repository"
)

// BackupRefPrefix is where a transaction parks the branch's pre-operation
// commit before rewriting it, so a rollback (or a later recovery) can restore
// it with a single ref update (spec §5).
const BackupRefPrefix = "refs/patchdance/backup/"

// Backup is one operation's pre-rewrite snapshot.
type Backup struct {
	OperationID string
	Branch      string
	CommitID    diffmodel.CommitId
	Taken       time.Time
}

func backupRefName(operationID string) string {
	return BackupRefPrefix + operationID
}

// TakeBackup records branchHead under a dedicated ref so it survives even
// if the branch itself is force-updated mid-transaction.
func TakeBackup(ctx context.Context, repo repository.Port, operationID, branch string, branchHead diffmodel.CommitId) (Backup, error) {
	if err := repo.CreateRef(ctx, backupRefName(operationID), branchHead); err != nil {
		return Backup{}, err
	}
	return Backup{OperationID: operationID, Branch: branch, CommitID: branchHead}, nil
}

// RestoreBackup points branch back at the backup's commit via CAS, failing
// loudly (rather than silently no-op'ing) if the branch moved since.
func RestoreBackup(ctx context.Context, repo repository.Port, b Backup, currentBranchHead diffmodel.CommitId) error {
	ok, err := repo.UpdateRef(ctx, branchRefName(b.Branch), currentBranchHead, b.CommitID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rollback failed: %s moved since the transaction started", b.Branch)
	}
	return nil
}

func branchRefName(branch string) string {
	return "refs/heads/" + branch
}

// ListBackups enumerates every backup ref currently retained, newest first.
func ListBackups(ctx context.Context, repo repository.Port) ([]Backup, error) {
	names, err := repo.ListRefs(ctx, BackupRefPrefix)
	if err != nil {
		return nil, err
	}

	backups := make([]Backup, 0, len(names))
	for _, name := range names {
		id, found, err := repo.ResolveRef(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		backups = append(backups, Backup{
			OperationID: name[len(BackupRefPrefix):],
			CommitID:    id,
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].OperationID > backups[j].OperationID })
	return backups, nil
}

// PruneBackups deletes every backup ref older than retention, judged by the
// ULID-encoded timestamp prefix of its operation id (spec's supplemental
// backup-retention feature; ULIDs sort lexically by creation time).
func PruneBackups(ctx context.Context, repo repository.Port, retention time.Duration, now time.Time) (int, error) {
	backups, err := ListBackups(ctx, repo)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-retention)
	pruned := 0
	for _, b := range backups {
		ts, err := idgen.Timestamp(b.OperationID)
		if err != nil || ts.After(cutoff) {
			continue
		}
		if err := repo.DeleteRef(ctx, backupRefName(b.OperationID)); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
