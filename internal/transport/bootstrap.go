package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"

	"github.com/repx-run/repx/internal/apperror"
)

// StageBinary uploads the engine binary at localPath to a content-addressed
// path under basePath on the target (artifacts/host-tools/repx/<hash>/repx)
// if not already present, and returns the remote path to invoke. This is
// the remote-bootstrap step: after this, the orchestrator invokes the
// staged binary's "internal-execute" subcommand instead of shelling out to
// a tool resolved from the remote PATH.
func StageBinary(ctx context.Context, t Transport, basePath, localPath string) (string, error) {
	hash, err := hashFile(localPath)
	if err != nil {
		return "", apperror.New(apperror.KindTransport, "hash engine binary", err)
	}
	remotePath := path.Join(basePath, "artifacts", "host-tools", "repx", hash, "repx")

	exists, err := t.Exists(ctx, remotePath)
	if err != nil {
		return "", err
	}
	if exists {
		return remotePath, nil
	}
	if err := t.PutFile(ctx, localPath, remotePath); err != nil {
		return "", err
	}
	return remotePath, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
