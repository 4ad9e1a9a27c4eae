// Package acceleration chooses the dlib face detector for the host.
// The HOG detector runs well on any CPU; the CNN (MMOD) detector is more
// accurate but only practical when dlib was built against CUDA.
package acceleration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/MrCodeEU/facecompare/pkg/logging"
)

// Mode is a face detector mode.
type Mode string

const (
	// ModeHOG is the CPU-friendly histogram-of-oriented-gradients detector.
	ModeHOG Mode = "hog"

	// ModeCNN is the dlib MMOD convolutional detector.
	ModeCNN Mode = "cnn"

	// ModeAuto selects CNN when a CUDA device is present, HOG otherwise.
	ModeAuto Mode = "auto"
)

// CNNModelFile is the detector weights file required for ModeCNN.
const CNNModelFile = "mmod_human_face_detector.dat"

// DeviceInfo describes a detected accelerator.
type DeviceInfo struct {
	Name        string
	Version     string
	DeviceCount int
}

// Selection is the outcome of choosing a detector mode.
type Selection struct {
	Mode   Mode
	Device *DeviceInfo
	Reason string
}

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeHOG, "":
		return ModeHOG, nil
	case ModeCNN:
		return ModeCNN, nil
	case ModeAuto:
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown detector mode %q", s)
}

// Select resolves requested into a concrete detector mode for this host.
func Select(requested Mode, modelPath string) Selection {
	return selectMode(requested, modelPath, detectCUDA, fileExists)
}

func selectMode(requested Mode, modelPath string, queryDevice func() *DeviceInfo, exists func(string) bool) Selection {
	switch requested {
	case ModeCNN:
		return Selection{Mode: ModeCNN, Device: queryDevice(), Reason: "requested"}
	case ModeAuto:
		device := queryDevice()
		if device == nil {
			return Selection{Mode: ModeHOG, Reason: fmt.Sprintf("no CUDA device, using CPU (%d cores)", runtime.NumCPU())}
		}
		if !exists(filepath.Join(modelPath, CNNModelFile)) {
			logging.Warnf("CUDA device %s found but %s is missing, using HOG", device.Name, CNNModelFile)
			return Selection{Mode: ModeHOG, Device: device, Reason: "cnn model missing"}
		}
		return Selection{Mode: ModeCNN, Device: device, Reason: "CUDA device " + device.Name}
	default:
		return Selection{Mode: ModeHOG, Reason: "requested"}
	}
}

// detectCUDA detects an NVIDIA GPU through nvidia-smi.
func detectCUDA() *DeviceInfo {
	cmd := exec.Command("nvidia-smi", "--query-gpu=name,driver_version", "--format=csv,noheader")
	output, err := cmd.Output()
	if err != nil {
		return nil
	}
	return parseNvidiaSMI(string(output))
}

func parseNvidiaSMI(output string) *DeviceInfo {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}

	lines := strings.Split(output, "\n")
	info := &DeviceInfo{DeviceCount: len(lines)}
	parts := strings.Split(lines[0], ",")
	info.Name = strings.TrimSpace(parts[0])
	if len(parts) >= 2 {
		info.Version = strings.TrimSpace(parts[1])
	}
	return info
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
