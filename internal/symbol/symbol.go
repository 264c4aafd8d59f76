// Package symbol converts a trade signal's symbol across master and slave
// broker naming conventions: stripping the master's decoration, applying
// any explicit rewrite rule, then applying the slave's decoration.
package symbol

import "strings"

// Mapping is a single source->target symbol rewrite rule, applied against
// the broker-independent "clean" symbol (after master decoration is
// stripped, before slave decoration is added).
type Mapping struct {
	Source string
	Target string
}

// Converter rewrites a symbol from a master's naming convention to a
// slave's, via exactly five steps, in order:
//  1. strip master prefix
//  2. strip master suffix
//  3. apply a symbol_mappings rule if the cleaned symbol matches a source
//  4. prepend the slave prefix
//  5. append the slave suffix
type Converter struct {
	MasterPrefix string
	MasterSuffix string
	SlavePrefix  string
	SlaveSuffix  string
}

// NewConverter builds a Converter from master/slave decoration settings.
func NewConverter(masterPrefix, masterSuffix, slavePrefix, slaveSuffix string) Converter {
	return Converter{
		MasterPrefix: masterPrefix,
		MasterSuffix: masterSuffix,
		SlavePrefix:  slavePrefix,
		SlaveSuffix:  slaveSuffix,
	}
}

// Convert rewrites symbol per the five-step order described on Converter.
func (c Converter) Convert(symbol string, mappings []Mapping) string {
	result := symbol

	if c.MasterPrefix != "" {
		result = strings.TrimPrefix(result, c.MasterPrefix)
	}
	if c.MasterSuffix != "" {
		result = strings.TrimSuffix(result, c.MasterSuffix)
	}

	for _, m := range mappings {
		if m.Source == result {
			result = m.Target
			break
		}
	}

	if c.SlavePrefix != "" {
		result = c.SlavePrefix + result
	}
	if c.SlaveSuffix != "" {
		result = result + c.SlaveSuffix
	}

	return result
}
