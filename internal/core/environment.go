package core

import "fmt"

type Environment string

const (
	DevelopmentEnv Environment = "development"
	TestEnv        Environment = "test"
	ProductionEnv  Environment = "production"
)

// ParseEnvironment accepts the environment names the apps know how to run in
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(s); env {
	case DevelopmentEnv, TestEnv, ProductionEnv:
		return env, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

// IsDevelopment is true for local runs and tests, which log at debug level
func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv || e == TestEnv
}
