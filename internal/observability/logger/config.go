package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configura el logger.
type Config struct {
	// Env: "dev" (consola) o "prod"/"production" (JSON). Default "dev".
	Env string

	// Level: debug, info, warn|warning, error. Default info.
	Level string

	// Format fuerza "console" o "json" sin importar Env.
	Format string

	// Output son los destinos de zap ("stderr", rutas de archivo).
	// Default stderr: stdout queda para la salida de la CLI.
	Output []string

	ServiceName string
	Version     string
}

func (c Config) prod() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "prod", "production":
		return true
	}
	return false
}

func (c Config) encoding() string {
	switch f := strings.ToLower(strings.TrimSpace(c.Format)); f {
	case "console", "json":
		return f
	}
	if c.prod() {
		return "json"
	}
	return "console"
}

// zapConfig traduce Config a zap.Config. Separado de build para testearlo
// sin abrir los outputs.
func zapConfig(cfg Config) zap.Config {
	var zc zap.Config
	if cfg.prod() {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.Encoding = cfg.encoding()
	zc.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if zc.Encoding == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}

	zc.OutputPaths = []string{"stderr"}
	if len(cfg.Output) > 0 {
		zc.OutputPaths = append([]string(nil), cfg.Output...)
	}
	zc.ErrorOutputPaths = []string{"stderr"}

	fields := map[string]any{}
	if cfg.ServiceName != "" {
		fields["service"] = cfg.ServiceName
	}
	if cfg.Version != "" {
		fields["version"] = cfg.Version
	}
	if len(fields) > 0 {
		zc.InitialFields = fields
	}
	return zc
}

// build arma el logger; si la config no compila cae a un logger de producción.
func build(cfg Config) *zap.Logger {
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if cfg.prod() {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l, err := zapConfig(cfg).Build(opts...)
	if err != nil {
		l, _ = zap.NewProduction()
	}
	return l
}

// parseLevel acepta los nombres de zap más "warning"; lo desconocido es info.
func parseLevel(lvl string) zapcore.Level {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	l, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return l
}
