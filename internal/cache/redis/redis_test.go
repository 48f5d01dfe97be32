package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	c := Wrap(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()

	assert.Equal(t, "flasharb:cooldown:0xa-0xb", c.Key("cooldown", "0xa-0xb"))

	other := Wrap(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "staging")
	defer other.Close()
	assert.Equal(t, "staging:bus:executions", other.Key("bus", "executions"))
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("executions"))
	assert.True(t, hasPattern("unit_*"))
	assert.True(t, hasPattern("risk?"))
	assert.True(t, hasPattern("[ab]"))
}
