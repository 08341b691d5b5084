package config

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/roach88/botscript/internal/command"
)

const sample = `{
  "username": "alice",
  "password": "secret",
  "package": "packages/du",
  "server": "http://www.example.org",
  "modules": {
    "base": {"wait_time_factor": "1.5", "proxy": ""},
    "train": {"active": "1", "type": "strength"}
  }
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "alice", c.Username)
	assert.Equal(t, "secret", c.Password)
	assert.Equal(t, "packages/du", c.Package)
	assert.Equal(t, "http://www.example.org", c.Server)
	assert.False(t, c.Inactive)
	assert.Equal(t, []string{"base", "train"}, c.Modules())

	v, ok := c.Get("train", "type")
	assert.True(t, ok)
	assert.Equal(t, "strength", v)
	assert.True(t, c.Active("train"))
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(`{"username":"u","password":"p","package":"pk","server":"s","modules":{}}`))
	require.NoError(t, err)

	v, _ := c.Get(ModuleBase, KeyWaitFactor)
	assert.Equal(t, "1", v)
	v, ok := c.Get(ModuleBase, KeyProxy)
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestParse_LegacyTopLevel(t *testing.T) {
	c, err := Parse([]byte(`{
		"username":"u","password":"p","package":"pk","server":"s",
		"wait_time_factor":"2","proxy":"127.0.0.1:8080","inactive":true,
		"modules":{"train":{"name":"Training","active":"0"}}
	}`))
	require.NoError(t, err)

	v, _ := c.Get(ModuleBase, KeyWaitFactor)
	assert.Equal(t, "2", v)
	v, _ = c.Get(ModuleBase, KeyProxy)
	assert.Equal(t, "127.0.0.1:8080", v)
	assert.True(t, c.Inactive)

	_, ok := c.Get("train", "name")
	assert.False(t, ok, "module display name is not a setting")
}

func TestParse_LegacyDoesNotOverrideModules(t *testing.T) {
	c, err := Parse([]byte(`{
		"username":"u","password":"p","package":"pk","server":"s",
		"wait_time_factor":"2",
		"modules":{"base":{"wait_time_factor":"0.5"}}
	}`))
	require.NoError(t, err)

	v, _ := c.Get(ModuleBase, KeyWaitFactor)
	assert.Equal(t, "0.5", v)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"not json", `{"username":`, ""},
		{"not an object", `["a"]`, ""},
		{"missing modules", `{"username":"u","password":"p","package":"pk","server":"s"}`, "modules"},
		{"missing username", `{"password":"p","package":"pk","server":"s","modules":{}}`, "username"},
		{"numeric username", `{"username":1,"password":"p","package":"pk","server":"s","modules":{}}`, "username"},
		{"numeric module value", `{"username":"u","password":"p","package":"pk","server":"s","modules":{"base":{"wait_time_factor":2}}}`, "modules.base.wait_time_factor"},
		{"module not an object", `{"username":"u","password":"p","package":"pk","server":"s","modules":{"base":"x"}}`, "modules.base"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, IsValidationError(err))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			if tt.field != "" {
				assert.Equal(t, tt.field, ve.Field)
			}
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestConfig_JSON(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "redacted", []byte(c.JSON(false)))
	g.Assert(t, "full", []byte(c.JSON(true)))
}

func TestConfig_JSON_RoundTrip(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	again, err := Parse([]byte(c.JSON(true)))
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestConfig_JSON_RedactsModulePasswords(t *testing.T) {
	c := New("u", "p", "pk", "s")
	c.Set("mail", "smtp_password", "hunter2")
	c.Set("mail", "host", "mx")

	redacted := gjson.Parse(c.JSON(false))
	assert.False(t, redacted.Get("password").Exists())
	assert.False(t, redacted.Get("modules.mail.smtp_password").Exists())
	assert.Equal(t, "mx", redacted.Get("modules.mail.host").String())

	full := gjson.Parse(c.JSON(true))
	assert.Equal(t, "p", full.Get("password").String())
	assert.Equal(t, "hunter2", full.Get("modules.mail.smtp_password").String())
}

func TestConfig_JSON_EscapesKeys(t *testing.T) {
	c := New("u", "p", "pk", "s")
	c.Set("odd.module", "a*b", "v")

	doc := gjson.Parse(c.JSON(false))
	assert.Equal(t, "v", doc.Get(`modules.odd\.module.a\*b`).String())
}

func TestConfig_Clone(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	clone := c.Clone()
	clone.Set("train", "type", "speed")

	v, _ := c.Get("train", "type")
	assert.Equal(t, "strength", v)
}

func TestConfig_Commands(t *testing.T) {
	c, err := Parse([]byte(`{
		"username":"u","password":"p","package":"pk","server":"s",
		"modules":{
			"zeta":{"b":"2","a":"1"},
			"base":{"wait_time_factor":"1.5","proxy":"px"},
			"alpha":{"active":"1","mode":"x"}
		}
	}`))
	require.NoError(t, err)

	var got []string
	for _, cmd := range c.Commands() {
		got = append(got, cmd.Address.String()+"="+cmd.Argument)
	}
	assert.Equal(t, []string{
		"base_set_wait_time_factor=1.5",
		"base_set_proxy=px",
		"alpha_set_mode=x",
		"alpha_set_active=1",
		"zeta_set_a=1",
		"zeta_set_b=2",
		"zeta_set_active=0",
	}, got)

	for _, cmd := range c.Commands() {
		assert.Equal(t, command.ActionSet, cmd.Address.Action)
	}
}

func TestIsSecret(t *testing.T) {
	assert.True(t, IsSecret("password"))
	assert.True(t, IsSecret("Mail_PASSWORD"))
	assert.False(t, IsSecret("username"))
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, `a\.b`, EscapePath("a.b"))
	assert.Equal(t, "plain", EscapePath("plain"))
}
