// Package devicepath discovers the set of kernel-registered consoles and
// resolves their major:minor device numbers to /dev paths.
//
// Grounded on libconsole/devices.c's charname()/chardev() nftw-based walk
// and console.c's getconsoles(), which tries /proc/consoles first, then
// /dev/char/<maj>:<min> symlink resolution, then an exhaustive /dev walk
// matching st_rdev, and finally falls back to /dev/console.
package devicepath

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Flags mirrors the CON_* bits parsed out of /proc/consoles' flag column.
type Flags int

const (
	FlagEnabled Flags = 1 << iota
	FlagConsDev
	FlagBoot
	FlagPrintBuffer
	FlagBraille
	FlagAnytime
)

var flagLetters = map[byte]Flags{
	'E': FlagEnabled,
	'C': FlagConsDev,
	'B': FlagBoot,
	'p': FlagPrintBuffer,
	'b': FlagBraille,
	'a': FlagAnytime,
}

// Device describes one discovered console device.
type Device struct {
	Path  string
	Flags Flags
	Major uint32
	Minor uint32
}

// Discover returns the list of enabled console devices, following the same
// three-tier fallback as getconsoles(): /proc/consoles, then a last-resort
// /dev/console entry if that file is empty, missing, or yields no enabled
// line.
func Discover() ([]Device, error) {
	devs, err := fromProcConsoles("/proc/consoles")
	if err == nil && len(devs) > 0 {
		return devs, nil
	}

	return fallbackConsole()
}

func fromProcConsoles(path string) ([]Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var devs []Device
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		flagsStr, majmin, ok := parseConsolesLine(line)
		if !ok {
			continue
		}
		if !strings.ContainsRune(flagsStr, 'E') {
			continue
		}

		var flags Flags
		for i := 0; i < len(flagsStr); i++ {
			if f, ok := flagLetters[flagsStr[i]]; ok {
				flags |= f
			}
		}

		maj, min, err := parseMajMin(majmin)
		if err != nil {
			continue
		}

		tty, err := resolveDevicePath(maj, min)
		if err != nil {
			continue
		}

		devs = append(devs, Device{Path: tty, Flags: flags, Major: maj, Minor: min})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return devs, nil
}

// parseConsolesLine extracts the "(EC...)" flag set and "maj:min" device
// column from one /proc/consoles line, e.g.:
//
//	tty0             -WU (ECp)       4:1
//
// Matches the `"%*s %*s (%[^)]) %[0-9:]"` fscanf format in getconsoles().
func parseConsolesLine(line string) (flags string, majmin string, ok bool) {
	open := strings.IndexByte(line, '(')
	close := strings.IndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return "", "", false
	}
	flags = line[open+1 : close]
	rest := strings.TrimSpace(line[close+1:])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", false
	}
	return flags, fields[0], true
}

func parseMajMin(s string) (uint32, uint32, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("devicepath: malformed major:minor %q", s)
	}
	maj, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	min, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(maj), uint32(min), nil
}

// resolveDevicePath resolves maj:min to a /dev path. It first tries
// /dev/char/<maj>:<min> (a symlink maintained by udev/devtmpfs since 2.6.27)
// and falls back to WalkDevDir, matching charname()'s own fallback to an
// nftw-style /dev walk when the symlink does not exist.
func resolveDevicePath(maj, min uint32) (string, error) {
	link := fmt.Sprintf("/dev/char/%d:%d", maj, min)
	if target, err := filepath.EvalSymlinks(link); err == nil {
		return target, nil
	}
	return WalkDevDir("/dev", unix.Mkdev(maj, min))
}

// WalkDevDir walks root looking for a character device node whose st_rdev
// matches dev, reimplementing devices.c's nftw-based charname()/chardev()
// walk with filepath.WalkDir.
func WalkDevDir(root string, dev uint64) (string, error) {
	var found string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate unreadable entries, keep walking
		}
		if found != "" {
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		st, ok := info.Sys().(*unix.Stat_t)
		if !ok {
			return nil
		}
		if info.Mode()&os.ModeCharDevice == 0 {
			return nil
		}
		if st.Rdev == dev {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return "", walkErr
	}
	if found == "" {
		return "", fmt.Errorf("devicepath: no device node for rdev %d found under %s", dev, root)
	}
	return found, nil
}

// fallbackConsole returns /dev/console as the last-resort single console,
// matching getconsoles()'s `err:` label which tries TIOCGDEV on an opened
// /dev/console and otherwise hardcodes makedev(TTYAUX_MAJOR, 1).
func fallbackConsole() ([]Device, error) {
	const ttyAuxMajor = 5
	path := "/dev/console"
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("devicepath: no consoles discovered and %s missing: %w", path, err)
	}
	sys, ok := st.Sys().(*unix.Stat_t)
	maj, min := uint32(ttyAuxMajor), uint32(1)
	if ok {
		maj, min = uint32(unix.Major(sys.Rdev)), uint32(unix.Minor(sys.Rdev))
	}
	return []Device{{Path: path, Flags: FlagConsDev, Major: maj, Minor: min}}, nil
}
