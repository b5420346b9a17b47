package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dubstudio/pkg/model"
)

const maxLoggedPrompt = 2000

var (
	logPath = "logs/synthesis.log"
	mu      sync.RWMutex
)

// SetLogPath configures the path of the synthesis history file. An empty path disables it.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	logPath = path
}

// Log appends one synthesis call to the history file.
func Log(engine, engineModel, prompt string, status int, err error) {
	mu.Lock()
	defer mu.Unlock()
	if logPath == "" {
		return
	}

	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)

	f, fileErr := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fileErr != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	statusStr := fmt.Sprintf("%d", status)
	if err != nil {
		statusStr = fmt.Sprintf("ERROR(%v)", err)
	}
	name := engine
	if engineModel != "" {
		name += "/" + engineModel
	}

	entry := fmt.Sprintf("[%s] [%s] STATUS: %s\nPROMPT:\n%s\n--------------------------------------------------\n",
		timestamp, name, statusStr, model.Truncate(prompt, maxLoggedPrompt))

	_, _ = f.WriteString(entry)
}
