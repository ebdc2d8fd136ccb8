// Package doctor runs environment checks for the capture and upload path.
package doctor

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"murmur/internal/capture"
	"murmur/internal/config"
	"murmur/internal/hook"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(cfg *config.Config) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkEndpoint(cfg),
	}
	switch strings.ToLower(cfg.Capture.Backend) {
	case "portaudio":
		results = append(results, checkPortAudioPkgConfig(), checkPortAudio())
	default:
		results = append(results, checkFFmpeg(cfg.Capture.FFmpegPath))
	}
	if cfg.Hook.Command != "" {
		results = append(results, checkHookExecutable(cfg.Hook.Command))
	}
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkEndpoint(cfg *config.Config) Result {
	label := "upload"
	if strings.EqualFold(cfg.Upload.Provider, "openai") {
		if cfg.Upload.OpenAIAPIKey == "" {
			return Result{Name: label, Pass: false, Detail: "provider openai needs OPENAI_API_KEY"}
		}
		return Result{Name: label, Pass: true, Detail: "openai " + cfg.Upload.OpenAIModel}
	}
	u, err := url.Parse(cfg.Upload.Endpoint)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return Result{Name: label, Pass: false, Detail: fmt.Sprintf("%q is not an http(s) URL", cfg.Upload.Endpoint)}
	}
	return Result{Name: label, Pass: true, Detail: u.String()}
}

func checkFFmpeg(bin string) Result {
	if bin == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return Result{Name: "ffmpeg", Pass: false, Detail: "not found (brew install ffmpeg / apt install ffmpeg)"}
	}
	return Result{Name: "ffmpeg", Pass: true, Detail: resolved}
}

func checkHookExecutable(command string) Result {
	label := "hook.command"
	argv, err := hook.CommandLine(command)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	path := argv[0]
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; set hook.command to an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	// Else search PATH.
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Pass: false, Detail: "pkg-config not found (brew install pkg-config)"}
	}
	cmd := exec.Command(pkg, "--exists", "portaudio-2.0")
	if err := cmd.Run(); err != nil {
		return Result{Name: "portaudio-dev", Pass: false, Detail: "portaudio-2.0 not found (brew install portaudio)"}
	}
	versionCmd := exec.Command(pkg, "--modversion", "portaudio-2.0")
	if out, err := versionCmd.Output(); err == nil {
		return Result{Name: "portaudio-dev", Pass: true, Detail: strings.TrimSpace(string(out))}
	}
	return Result{Name: "portaudio-dev", Pass: true, Detail: "found via pkg-config"}
}

func checkPortAudio() Result {
	if err := capture.CheckPortAudio(); err != nil {
		return Result{Name: "portaudio", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "portaudio", Pass: true, Detail: "ok"}
}
