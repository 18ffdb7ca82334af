package config

import "github.com/joho/godotenv"

// LoadDotEnv reads a .env file into the process environment.
// Variables already present in the environment are left untouched.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}
