package config

import "testing"

func validBase() Config {
	c := Config{}
	c.App = AppConfig{Env: "local", Port: 8080, PublicBaseURL: "https://hotline.example.org"}
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "hotline", SSLMode: ""}
	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	c.Auth = AuthConfig{JWTSecret: "secret"}
	c.Hotline = HotlineConfig{Number: "+15550001111", HashSalt: "salt"}
	c.Provider.Name = "twilio"
	c.Provider.Twilio.AccountSID = "AC123"
	c.Provider.Twilio.AuthToken = "tok"
	return c
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_ProviderCredentials(t *testing.T) {
	c := validBase()
	c.Provider.Name = "vonage"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for vonage without credentials")
	}

	c.Provider.Vonage.APIKey = "k"
	c.Provider.Vonage.APISecret = "s"
	c.Provider.Vonage.SignatureSecret = "sig"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	c := validBase()
	c.Provider.Name = "carrier-pigeon"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestValidate_RosterEntryShape(t *testing.T) {
	c := validBase()
	c.Hotline.Roster = []string{"alice=+15550002222", "broken-entry"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for malformed roster entry")
	}
}
