package optimizer

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
	"github.com/cloakgov/cloakgov/internal/model"
)

// LinearModel predicts a 7-component ActionVector from a 6-component
// Features vector as a plain affine map (Weights*f + Bias) per output
// component. No ONNX runtime, tensorflow, or gorgonia binding appears
// anywhere in the retrieval pack, so this is built on encoding/gob
// rather than a third-party inference library -- the one other
// stdlib-justified piece besides internal/queue's container/heap use.
type LinearModel struct {
	Weights [7][6]float64
	Bias    [7]float64
}

// LoadLinearModel decodes a gob-serialized LinearModel from path. A
// missing or malformed file is ErrInitFailure, which the supervisor
// treats as fatal at startup.
func LoadLinearModel(path string) (*LinearModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open model %s: %v", cloakerr.ErrInitFailure, path, err)
	}
	defer f.Close()

	var m LinearModel
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decode model %s: %v", cloakerr.ErrInitFailure, path, err)
	}
	return &m, nil
}

// Save gob-encodes m to path, used by tooling that fits new weights.
func (m *LinearModel) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create model %s: %v", cloakerr.ErrInitFailure, path, err)
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(m)
}

// Predict computes each of the 7 output components as a dot product of
// f against that component's weight row plus its bias, then maps the
// raw outputs onto ActionVector's named fields in the fixed order
// cpu_threads, ram_mb, gpu_usage[0..2], disk_io_mbps, net_mbps.
func (m *LinearModel) Predict(f model.Features) (model.ActionVector, error) {
	var out [7]float64
	for i := 0; i < 7; i++ {
		v := m.Bias[i]
		for j := 0; j < 6; j++ {
			v += m.Weights[i][j] * f[j]
		}
		out[i] = v
	}

	return model.ActionVector{
		CPUThreads: clampInt(out[0], 1, 64),
		RAMMB:      math.Max(out[1], 0),
		GPUUsage:   [3]float64{clampPct(out[2]), clampPct(out[3]), clampPct(out[4])},
		DiskIOMBps: math.Max(out[5], 0),
		NetMbps:    math.Max(out[6], 0),
	}, nil
}

func clampInt(v float64, min, max int) int {
	n := int(math.Round(v))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
