package system

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProjectExtensions are the document formats a project file may use.
var ProjectExtensions = []string{".json", ".yaml", ".yml"}

// InitResourceLimits raises the open-file limit so parallel asset decoding
// does not run out of descriptors.
func InitResourceLimits(log *slog.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("[!] Не удалось получить лимит файлов", "error", err)
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("[!] Не удалось установить лимит файлов", "error", err)
		return
	}
	log.Debug("[*] Системный лимит открытых файлов увеличен", "limit", rLimit.Cur)
}

// FindLatest returns the most recently modified regular file in dir whose
// extension is one of exts.
func FindLatest(dir string, exts []string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !slices.Contains(exts, strings.ToLower(filepath.Ext(f.Name()))) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("в папке %s не найдено файлов %s", dir, strings.Join(exts, ", "))
	}
	return latestFile, nil
}

// FindLatestProject resolves path to a project document. A directory yields
// its newest document.
func FindLatestProject(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return path, nil
	}
	return FindLatest(path, ProjectExtensions)
}

// GetBestH264Encoder picks a hardware encoder when the ffmpeg build has one.
func GetBestH264Encoder(ffmpeg string) string {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	out, err := exec.Command(ffmpeg, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	return pickEncoder(string(out))
}

func pickEncoder(listing string) string {
	// Приоритеты: VideoToolbox (macOS), NVENC, затем программный libx264
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(listing, name) {
			return name
		}
	}
	return "libx264"
}

// DefaultQuality is the quality value each encoder treats as "good enough".
func DefaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75
	case "h264_nvenc":
		return 23
	}
	return 20
}

// ProcessStats is a point-in-time sample of this process.
type ProcessStats struct {
	RSS        uint64
	CPUPercent float64
	Threads    int32
}

// SampleProcess reads resource usage of the current process.
func SampleProcess() (ProcessStats, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ProcessStats{}, err
	}
	var st ProcessStats
	mem, err := proc.MemoryInfo()
	if err != nil {
		return st, fmt.Errorf("memory info: %w", err)
	}
	st.RSS = mem.RSS
	if st.CPUPercent, err = proc.CPUPercent(); err != nil {
		return st, fmt.Errorf("cpu percent: %w", err)
	}
	if st.Threads, err = proc.NumThreads(); err != nil {
		return st, fmt.Errorf("threads: %w", err)
	}
	return st, nil
}

// RSSMiB is RSS in mebibytes.
func (s ProcessStats) RSSMiB() float64 { return float64(s.RSS) / (1 << 20) }
