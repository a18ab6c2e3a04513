// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	// ErrMissingLogPath is returned when log_path is not set.
	ErrMissingLogPath = errors.New("log_path is required")

	// ErrMissingSchedulers is returned when the schedulers array is empty.
	ErrMissingSchedulers = errors.New("schedulers must list at least one scheduler id")

	// ErrInvalidScheduleWindow is returned when schedule_window_size is not positive.
	ErrInvalidScheduleWindow = errors.New("schedule_window_size must be greater than 0")

	// ErrInvalidSmoothingFactor is returned when profile_smoothing_factor is outside [0, 1].
	ErrInvalidSmoothingFactor = errors.New("profile_smoothing_factor must be between 0 and 1")

	// ErrInvalidWorkerConfig is returned when a workers[] entry is malformed.
	ErrInvalidWorkerConfig = errors.New("invalid worker config")
)
