package adapter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// Sensors reads host-wide CPU thermal/power figures from hwmon, in the
// same bufio.Scanner-over-sysfs style the teacher's collector package
// uses for procfs parsing.
type Sensors struct {
	sysRoot string
}

func NewSensors(sysRoot string) *Sensors { return &Sensors{sysRoot: sysRoot} }

// CPUTempC returns the highest "temp*_input" reading across all hwmon
// devices, in degrees Celsius.
func (s *Sensors) CPUTempC() (float64, error) {
	base := filepath.Join(s.sysRoot, "class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", cloakerr.ErrSensorUnavailable, base, err)
	}

	var maxMilliC int64 = -1
	for _, e := range entries {
		dir := filepath.Join(base, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasPrefix(f.Name(), "temp") || !strings.HasSuffix(f.Name(), "_input") {
				continue
			}
			v, err := readIntFile(filepath.Join(dir, f.Name()))
			if err != nil {
				continue
			}
			if v > maxMilliC {
				maxMilliC = v
			}
		}
	}
	if maxMilliC < 0 {
		return 0, fmt.Errorf("%w: no hwmon temp_input nodes found", cloakerr.ErrSensorUnavailable)
	}
	return float64(maxMilliC) / 1000.0, nil
}

// CPUPowerW returns the first readable hwmon "power*_input" value
// (microwatts) converted to watts. RAPL energy_uj counters are not read.
// Returns ErrSensorUnavailable if no such hwmon node exists -- not every
// host exposes power telemetry.
func (s *Sensors) CPUPowerW() (float64, error) {
	base := filepath.Join(s.sysRoot, "class", "hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", cloakerr.ErrSensorUnavailable, base, err)
	}
	for _, e := range entries {
		dir := filepath.Join(base, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasPrefix(f.Name(), "power") || !strings.HasSuffix(f.Name(), "_input") {
				continue
			}
			v, err := readIntFile(filepath.Join(dir, f.Name()))
			if err != nil {
				continue
			}
			return float64(v) / 1_000_000.0, nil
		}
	}
	return 0, fmt.Errorf("%w: no hwmon power_input nodes found", cloakerr.ErrSensorUnavailable)
}

func readIntFile(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty file %s", path)
	}
	return strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
}
