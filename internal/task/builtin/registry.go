// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package builtin

import "github.com/forkbombeu/fleetctl/internal/task"

// Register adds every built-in task type to r. matcher and ocr may be
// nil; image-click and OCR-region cards will then fail fast at
// execution time rather than at registration.
func Register(r *task.Registry, matcher ImageMatcher, ocr OCRProvider) {
	r.Register("start", StartTask{})
	r.Register("delay", DelayTask{})
	r.Register("input", InputTask{})
	r.Register("appLifecycle", AppLifecycleTask{})
	r.Register("imageClick", ImageClickTask{Matcher: matcher})
	r.Register("ocrRegion", OCRRegionTask{OCR: ocr})
}
