package vm

import (
	"os"

	"github.com/pkg/errors"
)

// LoadProgram reads and decodes a bytecode file.
func LoadProgram(fileName string) (*Program, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "load program failed")
	}
	prog, err := DeserializeProgram(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load program %s", fileName)
	}
	return prog, nil
}

// SaveProgram encodes prog and writes it to fileName.
func SaveProgram(fileName string, prog *Program) error {
	data, err := SerializeProgram(prog)
	if err != nil {
		return errors.Wrapf(err, "save program %s", fileName)
	}
	if err := os.WriteFile(fileName, data, 0o644); err != nil {
		return errors.Wrap(err, "save program failed")
	}
	return nil
}
