package upload

import (
	"io"

	"github.com/yarrco/ewmill/opkind"
	"github.com/yarrco/ewmill/overlay"
)

// StageAndFinalize implements §4.4 step 3 and §6's staging-file layout: it
// opens stagingPath, runs run against that file, and on success renames
// stagingPath to finalPath; on any failure it deletes stagingPath instead.
// run is one of Pipeline.RunRaw or a closure over Pipeline.RunMultipart.
func StageAndFinalize(fs overlay.FilesystemOverlay, stagingPath, finalPath string, run func(io.Writer) error) error {
	w, err := fs.OpenWrite(stagingPath)
	if err != nil {
		return opkind.NewFromError(opkind.OpenFail, err)
	}

	runErr := run(w)
	var syncErr error
	if runErr == nil {
		syncErr = w.Sync()
	}
	closeErr := w.Close()

	if runErr == nil && syncErr != nil {
		runErr = opkind.NewFromError(opkind.WriteFail, syncErr)
	}
	if runErr == nil && closeErr != nil {
		runErr = opkind.NewFromError(opkind.WriteFail, closeErr)
	}

	if runErr != nil {
		if unlinkErr := fs.Unlink(stagingPath); unlinkErr != nil {
			_ = opkind.Collect(runErr, unlinkErr) // merged error is discarded; only runErr is returned, so the unlink failure is not reported
		}
		return runErr
	}

	if err := fs.Rename(stagingPath, finalPath); err != nil {
		_ = fs.Unlink(stagingPath)
		return opkind.NewFromError(opkind.RenameFail, err)
	}
	return nil
}

// StagingPath derives the "<target>.part" staging name from a final path.
func StagingPath(finalPath string) string {
	return finalPath + ".part"
}
