//go:build flockdebug

package systems

const debugAsserts = true
