package flowterra

import "testing"

func validConfig() *Config {
	c := &Config{
		DtS:        60,
		DurationS:  3600,
		D8Encoding: "esri",
	}
	c.Particle.TargetVolumeM3 = 0.1
	return c
}

func TestConfigValidateDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.SCS.IaRatio != 0.2 {
		t.Errorf("SCS.IaRatio default = %v, want 0.2", c.SCS.IaRatio)
	}
	if c.Risk.PLow != 1 || c.Risk.PHigh != 99 {
		t.Errorf("Risk percentile defaults = %v,%v, want 1,99", c.Risk.PLow, c.Risk.PHigh)
	}
}

func TestConfigValidateRejectsUnknownEncoding(t *testing.T) {
	c := validConfig()
	c.D8Encoding = "bogus"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown d8_encoding")
	}
}

func TestConfigValidateRejectsNonPositiveDt(t *testing.T) {
	c := validConfig()
	c.DtS = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive dt_s")
	}
}

func TestConfigValidateClampsBalance(t *testing.T) {
	c := validConfig()
	c.Risk.Balance = 1.5
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Risk.Balance != 1 {
		t.Errorf("Risk.Balance = %v, want clamped to 1", c.Risk.Balance)
	}

	c2 := validConfig()
	c2.Risk.Balance = -0.3
	if err := c2.Validate(); err != nil {
		t.Fatal(err)
	}
	if c2.Risk.Balance != 0 {
		t.Errorf("Risk.Balance = %v, want clamped to 0", c2.Risk.Balance)
	}
}
