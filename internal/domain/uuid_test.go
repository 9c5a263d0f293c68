package domain

import "testing"

// TestValidUUID_RoundTrip covers Testable Property 2: for any accepted
// UUID, it validates, then validates again after a copy; reject strings
// never validate.
func TestValidUUID_RoundTrip(t *testing.T) {
	accepted := []string{
		"0CD8C06B-8557-4703-BE47-4D5E0A9C7B47",
		"0cd8c06b-8557-4703-be47-4d5e0a9c7b47",
		"0CD8C06B.855703.I2",
		"0cd8c06b.855703.abcXYZ9",
	}
	for _, u := range accepted {
		if !ValidUUID(u) {
			t.Fatalf("expected %q to validate", u)
		}
		cp := string([]byte(u))
		if !ValidUUID(cp) {
			t.Fatalf("expected copy of %q to validate", u)
		}
	}

	rejected := []string{
		"",
		"not-a-uuid",
		"0CD8C06B-8557-4703-BE47",
		"0CD8C06B.855703",
		"0CD8C06B.855703.has space",
		"0CD8C06B-8557-4703-BE47-4D5E0A9C7B4G",
		"0CD8C06B85574703BE474D5E0A9C7B47",
	}
	for _, u := range rejected {
		if ValidUUID(u) {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}

func TestValidAction(t *testing.T) {
	for _, a := range []string{"on", "off", "toggle", "pulse", "up", "down", "stop", "fullup", "fulldown"} {
		if !ValidAction(a) {
			t.Errorf("expected action %q to be valid", a)
		}
	}
	for _, a := range []string{"", "On", "blink", "reset"} {
		if ValidAction(a) {
			t.Errorf("expected action %q to be invalid", a)
		}
	}
}

func TestValidTemperatureAndPercent(t *testing.T) {
	if !ValidTemperature(-50) || !ValidTemperature(100) || !ValidTemperature(21.5) {
		t.Error("expected boundary/interior temperatures to validate")
	}
	if ValidTemperature(-50.1) || ValidTemperature(100.1) {
		t.Error("expected out-of-range temperatures to be rejected")
	}
	if !ValidPercent(0) || !ValidPercent(100) || !ValidPercent(50) {
		t.Error("expected boundary/interior percents to validate")
	}
	if ValidPercent(-0.1) || ValidPercent(100.1) {
		t.Error("expected out-of-range percents to be rejected")
	}
}

func TestValidCategory(t *testing.T) {
	for _, c := range []Category{CategoryLights, CategoryBlinds, CategoryClimate, CategorySensors,
		CategoryAudio, CategorySecurity, CategoryEnergy, CategoryWeather, CategoryOther} {
		if !ValidCategory(c) {
			t.Errorf("expected category %q to be valid", c)
		}
	}
	if ValidCategory(Category("spaceship")) {
		t.Error("expected unknown category to be rejected")
	}
}
