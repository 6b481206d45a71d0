package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file into the process environment, if present,
// mirroring the teacher's netInit middleware's best-effort godotenv.Load.
// A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
