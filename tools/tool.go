package tools

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rectcircle/bambusource/internal/variable"
	log "github.com/sirupsen/logrus"
)

// ToAddressString - return "$host:$port"
func ToAddressString(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatInt(int64(port), 10))
}

// PathExist - return whether exist of path
func PathExist(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return false
}

// ReadOrCreateFile - read from config file, and return the file content
// if path not exist, will create the path and call `f()` to write to the file.
func ReadOrCreateFile(path string, f func() ([]byte, error)) ([]byte, error) {
	if PathExist(path) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return content, nil
	}
	content, err := f()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}
	file, err2 := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err2 != nil {
		return nil, err2
	}
	defer file.Close()
	if _, err := file.Write(content); err != nil {
		return nil, err
	}
	return content, nil
}

// LogAndExitIfErr - will log and exit if err != nil
func LogAndExitIfErr(err error) {
	if err != nil {
		log.Fatalf("error: %s", err.Error())
	}
}

// TraceF - debug log, only when variable.EnableTraceLog
func TraceF(format string, args ...interface{}) {
	if variable.EnableTraceLog {
		log.Debugf(strings.TrimSuffix(format, "\n"), args...)
	}
}

// Redact - keep the first and last rune of a secret for logs
func Redact(secret string) string {
	r := []rune(secret)
	if len(r) <= 2 {
		return strings.Repeat("*", len(r))
	}
	return fmt.Sprintf("%c%s%c", r[0], strings.Repeat("*", len(r)-2), r[len(r)-1])
}
