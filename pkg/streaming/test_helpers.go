// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"errors"

	"github.com/edgerun/plannerd/pkg/watch"
)

// fakeJobWatcher implements jobWatcher for the transport tests below,
// returning a fixed channel (or error) regardless of the options
// passed in.
type fakeJobWatcher struct {
	events <-chan watch.JobEvent
	err    error
}

func (f *fakeJobWatcher) Watch(ctx context.Context, opts *watch.WatchOptions) (<-chan watch.JobEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

var errWatchFailed = errors.New("watch failed")
