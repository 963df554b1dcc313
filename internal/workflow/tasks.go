package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"

	"tinypng/internal/failure"
	"tinypng/internal/logging"
	"tinypng/internal/tinify"
)

// startUploadLocked registers an upload task for a Started item, marks it
// Uploading and launches the request.
func (e *Engine) startUploadLocked(rec *record, apiKey string) {
	id := e.registerLocked(rec)
	if !e.transitionLocked(rec, Uploading{}) {
		e.releaseLocked(id)
		return
	}
	e.logger.Info("upload dispatched",
		logging.Int(logging.FieldItemID, rec.item.ID),
		logging.Int64(logging.FieldTaskID, int64(id)),
		logging.String(logging.FieldFile, rec.item.SourcePath),
		logging.Int("active", len(e.active)),
	)
	go e.runUpload(id, rec.item.SourcePath, apiKey)
}

func (e *Engine) runUpload(id taskID, path, apiKey string) {
	defer e.recoverTask(id, taskUpload)

	res, err := e.transport.Upload(context.Background(), path, apiKey, func(sent, total int64) {
		e.uploadProgress(id, sent, total)
	})
	e.finishUpload(id, res, err, apiKey)
}

// uploadProgress records monotonic progress and publishes whenever the
// whole percentage grows.
func (e *Engine) uploadProgress(id taskID, sent, total int64) {
	if total <= 0 {
		return
	}
	fraction := float64(sent) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	if fraction < 0 {
		fraction = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.active[id]
	if !ok {
		return
	}
	switch s := rec.item.State.(type) {
	case Waiting:
		// Never expected: admission moves items past Waiting before dispatch.
		return
	case Started:
		e.transitionLocked(rec, Uploading{Progress: fraction})
		rec.percent = int(fraction * 100)
	case Uploading:
		if fraction <= s.Progress {
			return
		}
		pct := int(fraction * 100)
		if pct <= rec.percent {
			rec.item.State = Uploading{Progress: fraction}
			return
		}
		rec.percent = pct
		e.transitionLocked(rec, Uploading{Progress: fraction})
	}
}

func (e *Engine) finishUpload(id taskID, res tinify.Result, err error, apiKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.releaseLocked(id)
	if !ok {
		return
	}
	if err != nil {
		e.failLocked(rec, err)
		e.admitLocked()
		return
	}

	if e.transitionLocked(rec, Downloading{ResultURL: res.URL, SavingsRatio: res.Ratio}) {
		// The download inherits the upload's slot before the sweep runs.
		dl := e.registerLocked(rec)
		e.logger.Info("download dispatched",
			logging.Int(logging.FieldItemID, rec.item.ID),
			logging.Int64(logging.FieldTaskID, int64(dl)),
			logging.Float64("ratio", res.Ratio),
		)
		go e.runDownload(dl, rec.item.SourcePath, res.URL, res.Ratio, apiKey)
	}
	e.admitLocked()
}

func (e *Engine) runDownload(id taskID, path, resultURL string, ratio float64, apiKey string) {
	defer e.recoverTask(id, taskDownload)

	var before, after int64
	target, err := resolveTarget(path)
	if err != nil {
		err = failure.LocalIO("", err)
	} else {
		var tmp string
		tmp, err = e.transport.Download(context.Background(), resultURL, apiKey, filepath.Dir(target))
		if err == nil {
			before, after, err = replaceFile(tmp, target)
			if err != nil {
				err = failure.LocalIO("", err)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.releaseLocked(id)
	if !ok {
		return
	}
	if err != nil {
		e.failLocked(rec, err)
	} else if e.transitionLocked(rec, Complete{
		ResultURL:    resultURL,
		SavingsRatio: ratio,
		BytesBefore:  before,
		BytesAfter:   after,
	}) {
		e.logger.Info("item complete",
			logging.Int(logging.FieldItemID, rec.item.ID),
			logging.String(logging.FieldFile, path),
			logging.Int64("bytes_before", before),
			logging.Int64("bytes_after", after),
		)
	}
	e.admitLocked()
}

// recoverTask turns a panicking task into an item failure so its slot is
// released.
func (e *Engine) recoverTask(id taskID, kind taskKind) {
	r := recover()
	if r == nil {
		return
	}
	e.logger.Error("task panicked",
		logging.Int64(logging.FieldTaskID, int64(id)),
		logging.String("task", string(kind)),
		logging.Any("panic", r),
		logging.String("stack", string(debug.Stack())),
	)

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.releaseLocked(id)
	if !ok {
		return
	}
	e.failLocked(rec, failure.Internal(fmt.Sprintf("%s task crashed", kind), fmt.Errorf("panic: %v", r)))
	e.admitLocked()
}
