// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package cost

// minimumLogSize is the sample count below which a ThermalModel
// returns the current temperature instead of a regressed prediction,
// per spec.md §4.D.
const minimumLogSize = 50

// thermalWindowSize is the sliding window width (W) for thermal
// regressions, matching the cloud latency model's window.
const thermalWindowSize = 100

// ThermalModel predicts a subgraph's expected post-invoke temperature,
// one regression per thermal zone.
type ThermalModel interface {
	// Predict returns the predicted post-invoke temperature for every
	// configured zone, given the feature set in obs and the current
	// readings as fallback (used until minimumLogSize is reached).
	Predict(obs Observation, currentTemps map[string]int64) map[string]int64
	// Update appends an observation and refits every zone's regression.
	Update(obs Observation, tempAfter map[string]int64)
}

// zoneRegression is one zone's sliding-window linear regression.
type zoneRegression struct {
	window *slidingWindow
}

func newZoneRegression() *zoneRegression {
	return &zoneRegression{window: newSlidingWindow(thermalWindowSize)}
}

func (z *zoneRegression) predict(row []float64, current int64) int64 {
	if z.window.Len() < minimumLogSize {
		return current
	}
	coeffs, ok := z.window.Fit()
	if !ok {
		return current
	}
	return int64(predict(coeffs, row))
}

func (z *zoneRegression) update(row []float64, target int64) {
	z.window.Append(row, float64(target))
}

// LocalThermalModel implements spec.md §4.D's local-worker variant:
// features [temp_all..., freq_all..., flops, input_output_bytes, 1],
// one regression per target zone. FLOPs are summed over Conv2D,
// DepthwiseConv2D, and TransposeConv ops by the caller and passed in
// via Observation.FLOPs.
type LocalThermalModel struct {
	zones map[string]*zoneRegression
}

// NewLocalThermalModel creates a model with a regression for each
// named zone.
func NewLocalThermalModel(zoneNames []string) *LocalThermalModel {
	zones := make(map[string]*zoneRegression, len(zoneNames))
	for _, name := range zoneNames {
		zones[name] = newZoneRegression()
	}
	return &LocalThermalModel{zones: zones}
}

func localFeatureRow(tempAll, freqAll []int64, flops, ioBytes int64) []float64 {
	row := make([]float64, 0, len(tempAll)+len(freqAll)+3)
	for _, t := range tempAll {
		row = append(row, float64(t))
	}
	for _, f := range freqAll {
		row = append(row, float64(f))
	}
	row = append(row, float64(flops), float64(ioBytes), 1)
	return row
}

// Predict returns the predicted post-invoke temperature for every
// zone; zones with fewer than minimumLogSize samples fall back to
// currentTemps[zone].
func (m *LocalThermalModel) Predict(obs Observation, currentTemps map[string]int64) map[string]int64 {
	row := localFeatureRow(obs.TempAllBefore, obs.FreqAll, obs.FLOPs, obs.InputBytes+obs.OutputBytes)
	out := make(map[string]int64, len(m.zones))
	for name, z := range m.zones {
		out[name] = z.predict(row, currentTemps[name])
	}
	return out
}

// Update appends a row for obs to every zone's regression and refits.
func (m *LocalThermalModel) Update(obs Observation, tempAfter map[string]int64) {
	row := localFeatureRow(obs.TempAllBefore, obs.FreqAll, obs.FLOPs, obs.InputBytes+obs.OutputBytes)
	for name, z := range m.zones {
		if after, ok := tempAfter[name]; ok {
			z.update(row, after)
		}
	}
}

// CloudThermalModel implements spec.md §4.D's cloud-worker variant:
// features [input_bytes, output_bytes, rssi, waiting_time, 1].
type CloudThermalModel struct {
	zones map[string]*zoneRegression
}

// NewCloudThermalModel creates a model with a regression for each
// named zone (typically just the device hosting the radio).
func NewCloudThermalModel(zoneNames []string) *CloudThermalModel {
	zones := make(map[string]*zoneRegression, len(zoneNames))
	for _, name := range zoneNames {
		zones[name] = newZoneRegression()
	}
	return &CloudThermalModel{zones: zones}
}

func cloudFeatureRow(inputBytes, outputBytes int64, rssi float64, waitingUS int64) []float64 {
	return []float64{float64(inputBytes), float64(outputBytes), rssi, float64(waitingUS), 1}
}

// Predict returns the predicted post-invoke temperature for every
// zone, given the full feature set.
func (m *CloudThermalModel) Predict(obs Observation, currentTemps map[string]int64) map[string]int64 {
	row := cloudFeatureRow(obs.InputBytes, obs.OutputBytes, obs.RSSI, obs.WaitingTime.Microseconds())
	out := make(map[string]int64, len(m.zones))
	for name, z := range m.zones {
		out[name] = z.predict(row, currentTemps[name])
	}
	return out
}

// Update appends a row for obs to every zone's regression and refits.
func (m *CloudThermalModel) Update(obs Observation, tempAfter map[string]int64) {
	row := cloudFeatureRow(obs.InputBytes, obs.OutputBytes, obs.RSSI, obs.WaitingTime.Microseconds())
	for name, z := range m.zones {
		if after, ok := tempAfter[name]; ok {
			z.update(row, after)
		}
	}
}
