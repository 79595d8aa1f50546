package process

const (
	wideFDLimit   = 40000
	narrowFDLimit = 10000
)

// FDLimit returns the open-file limit given to cores on the architecture.
func FDLimit(arch string) uint64 {
	switch arch {
	case "amd64", "arm64", "mips64", "mips64le", "ppc64", "ppc64le", "riscv64", "loong64", "s390x":
		return wideFDLimit
	default:
		return narrowFDLimit
	}
}
