package process

import (
	"fmt"

	"github.com/mitchellh/go-ps"
)

// Process is an entry of the process table.
type Process struct {
	PID  int
	Name string
}

// Table enumerates live processes.
type Table interface {
	Processes() ([]Process, error)
}

// SystemTable reads the operating system process table.
type SystemTable struct{}

// NewTable returns the operating system process table.
func NewTable() SystemTable {
	return SystemTable{}
}

// Processes lists live processes with their command names.
func (SystemTable) Processes() ([]Process, error) {
	list, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	result := make([]Process, 0, len(list))
	for _, p := range list {
		result = append(result, Process{PID: p.Pid(), Name: p.Executable()})
	}

	return result, nil
}

// FindPID returns the first process whose name is exactly name.
func FindPID(table Table, name string) (int, bool, error) {
	list, err := table.Processes()
	if err != nil {
		return 0, false, err
	}

	for _, p := range list {
		if p.Name == name {
			return p.PID, true, nil
		}
	}

	return 0, false, nil
}
