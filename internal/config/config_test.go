package config

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "defaults",
			cfg: Config{
				ServiceName: "Headset Audio Gateway",
				Logging:     LoggingConfig{Level: "info", Format: "text"},
			},
		},
		{
			name:    "empty service name",
			cfg:     Config{Logging: LoggingConfig{Format: "text"}},
			wantErr: true,
		},
		{
			name: "json format",
			cfg: Config{
				ServiceName: "AG",
				Logging:     LoggingConfig{Format: "json"},
			},
		},
		{
			name: "bogus format",
			cfg: Config{
				ServiceName: "AG",
				Logging:     LoggingConfig{Format: "xml"},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{Field: "service_name", Message: "service name must not be empty"}
	want := "service_name: service name must not be empty"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}
