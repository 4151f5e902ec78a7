package gateways

import (
	"debug/macho"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// lcCodeSignature is LC_CODE_SIGNATURE, which debug/macho does not name
const lcCodeSignature = 0x1d

type infoPlist struct {
	BundleID     string `plist:"CFBundleIdentifier"`
	ShortVersion string `plist:"CFBundleShortVersionString"`
	BuildVersion string `plist:"CFBundleVersion"`
	Executable   string `plist:"CFBundleExecutable"`
}

// BundleInspector reads an application bundle's Info.plist and main executable
// without invoking external tools
type BundleInspector struct{}

// NewBundleInspector creates a bundle inspector
func NewBundleInspector() *BundleInspector {
	return &BundleInspector{}
}

// Inspect parses Contents/Info.plist and the Mach-O executable it names
func (i *BundleInspector) Inspect(bundlePath string) (*entities.BundleInfo, error) {
	//nolint:gosec // G304: bundle path is produced by the export step
	data, err := os.ReadFile(filepath.Join(bundlePath, "Contents", "Info.plist"))
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist: %w", err)
	}

	var info infoPlist
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	if info.Executable == "" {
		return nil, fmt.Errorf("missing CFBundleExecutable in Info.plist")
	}

	result := &entities.BundleInfo{
		BundleID:     info.BundleID,
		ShortVersion: info.ShortVersion,
		BuildVersion: info.BuildVersion,
		Executable:   info.Executable,
	}

	files, closeAll, err := openMachO(filepath.Join(bundlePath, "Contents", "MacOS", info.Executable))
	if err != nil {
		return nil, err
	}
	defer closeAll()

	result.PIE = true
	result.CodeSigned = true
	for _, f := range files {
		result.Architectures = append(result.Architectures, archName(f.Cpu))
		result.PIE = result.PIE && f.Flags&macho.FlagPIE != 0
		result.CodeSigned = result.CodeSigned && hasCodeSignature(f)
	}
	return result, nil
}

// Verify inspects the bundle and checks it against the expected identifier and version
func (i *BundleInspector) Verify(bundlePath, bundleID, version string) (*entities.BundleInfo, error) {
	info, err := i.Inspect(bundlePath)
	if err != nil {
		return nil, err
	}
	return info, CheckBundle(info, bundleID, version)
}

// CheckBundle compares the inspected bundle against the release it should belong to
func CheckBundle(info *entities.BundleInfo, bundleID, version string) error {
	var problems []error
	if bundleID != "" && info.BundleID != bundleID {
		problems = append(problems, fmt.Errorf("bundle identifier is %q, expected %q", info.BundleID, bundleID))
	}
	if version != "" && info.ShortVersion != version {
		problems = append(problems, fmt.Errorf("CFBundleShortVersionString is %q, expected %q", info.ShortVersion, version))
	}
	if !info.CodeSigned {
		problems = append(problems, fmt.Errorf("executable %s has no embedded code signature", info.Executable))
	}
	return errors.Join(problems...)
}

// openMachO opens a thin or universal binary and returns one File per slice
func openMachO(path string) ([]*macho.File, func(), error) {
	fat, err := macho.OpenFat(path)
	if err == nil {
		files := make([]*macho.File, 0, len(fat.Arches))
		for _, arch := range fat.Arches {
			files = append(files, arch.File)
		}
		//nolint:errcheck // read-only file
		return files, func() { fat.Close() }, nil
	}
	if !errors.Is(err, macho.ErrNotFat) {
		return nil, nil, fmt.Errorf("failed to open universal binary: %w", err)
	}

	f, err := macho.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Mach-O file: %w", err)
	}
	//nolint:errcheck // read-only file
	return []*macho.File{f}, func() { f.Close() }, nil
}

func hasCodeSignature(f *macho.File) bool {
	for _, load := range f.Loads {
		raw := load.Raw()
		if len(raw) >= 4 && f.ByteOrder.Uint32(raw[:4]) == lcCodeSignature {
			return true
		}
	}
	return false
}

func archName(cpu macho.Cpu) string {
	switch cpu {
	case macho.CpuArm64:
		return "arm64"
	case macho.CpuAmd64:
		return "x86_64"
	default:
		return cpu.String()
	}
}
