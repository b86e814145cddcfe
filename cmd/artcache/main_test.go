package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nobletooth/artcache/pkg/config"
	"github.com/nobletooth/artcache/pkg/utils"
)

func TestSampleConfigOnlySetsDefinedFlags(t *testing.T) {
	utils.SetTestFlag(t, "config_file", "config.hujson")
	for _, err := range config.CollectUnknownFlags() {
		t.Error(err)
	}
	assert.FileExists(t, "config.hujson")
}
