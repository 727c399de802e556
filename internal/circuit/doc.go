// Package circuit implements a consecutive-failure circuit breaker that
// protects the external AI provider from sustained call volume while it is
// unhealthy. The breaker is an explicitly constructed, injected component:
// one instance per process, shared by everything that calls the provider.
package circuit
