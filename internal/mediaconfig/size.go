package mediaconfig

import "github.com/dustin/go-humanize"

// ByteSize is a byte count that can be parsed from either a plain integer
// (interpreted as MiB, matching ignore_file_size's historical unit) or a
// human-friendly suffixed string ("10MiB", "500MB").
type ByteSize uint64

// parseByteSizeMiB parses a config value for an option whose bare numeric
// form is expressed in MiB.
func parseByteSizeMiB(text string) (ByteSize, error) {
	if value, err := humanize.ParseBytes(text); err == nil {
		// humanize.ParseBytes treats a bare number as a byte count; options in
		// this configuration format express bare numbers in MiB, so detect
		// the no-suffix case and rescale.
		if isBareNumber(text) {
			return ByteSize(value) * 1024 * 1024, nil
		}
		return ByteSize(value), nil
	} else {
		return 0, err
	}
}

func isBareNumber(text string) bool {
	for _, r := range text {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' {
			return false
		}
	}
	return true
}
