package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpandDirStruct_Time(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.March, 7, 4, 9, 0, 0, time.UTC)
	assert.Equal(t, "2024/3/7", ExpandDirStruct("{year}/{month}/{day}", at))
	assert.Equal(t, "4-9", ExpandDirStruct("{hour}-{minute}", at))
}

func TestExpandDirStruct_UnknownToken(t *testing.T) {
	t.Parallel()

	expanded := ExpandDirStruct("test/{quake}", time.Now())
	assert.Equal(t, "test/{quake}", expanded)
	assert.True(t, HasUnresolvedTokens(expanded))
}

func TestExpandDirStruct_Env(t *testing.T) {
	name := fmt.Sprintf("RUSTUS_TEST_%d", time.Now().UnixNano())
	t.Setenv(name, "prod")

	expanded := ExpandDirStruct("{env["+name+"]}/uploads", time.Now())
	assert.Equal(t, "prod/uploads", expanded)
	assert.False(t, HasUnresolvedTokens(expanded))
}

func TestExpandDirStruct_MissingEnv(t *testing.T) {
	t.Parallel()

	expanded := ExpandDirStruct("{env[RUSTUS_DOES_NOT_EXIST]}/uploads", time.Now())
	assert.True(t, HasUnresolvedTokens(expanded))
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()

	headers := map[string][]string{
		"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"},
	}
	assert.Equal(t, "203.0.113.7", RemoteIP("10.0.0.2:1234", headers, true))
	assert.Equal(t, "10.0.0.2", RemoteIP("10.0.0.2:1234", headers, false))

	forwarded := map[string][]string{
		"Forwarded": {`for="203.0.113.9";proto=https`},
	}
	assert.Equal(t, "203.0.113.9", RemoteIP("10.0.0.2:1234", forwarded, true))
}
