// Package binary provisions a portable binary distribution into a directory
// next to the invocation location.
//
// A run walks four stages in order:
//
//	START -> DIR_READY -> DOWNLOADED -> EXTRACTED -> PATH_CONFIGURED
//
// and aborts to FATAL from any of them:
//   - DIR_READY: the target directory exists (created if needed)
//   - DOWNLOADED: the archive was fetched and looks like a real archive
//   - EXTRACTED: the archive was unpacked over the target directory
//   - PATH_CONFIGURED: the binaries directory leads PATH for this process
//
// Nothing is rolled back on failure. A partially extracted tree stays on
// disk and the next run overwrites it.
//
// # Usage
//
//	mgr, err := binary.NewManager(manifest, binary.Options{Base: cwd})
//	if err != nil {
//	    return err
//	}
//	result, err := mgr.Run(ctx, binary.RunOptions{})
//	if err != nil {
//	    var stageErr *binary.StageError
//	    if errors.As(err, &stageErr) {
//	        // stageErr.Stage names the stage that failed
//	    }
//	    return err
//	}
//	fmt.Println(result.BinDir)
//
// # Safety
//
// Archive entries that would land outside the target directory, by absolute
// path, ".." or a symlink pointing out of the tree, fail the extraction with
// ErrUnsafePath.
package binary
