// Package logger provee un logger Zap singleton con scoping por contexto.
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context scoping: cada request o sesión de resolución lleva su propio
//     logger con campos (request_id, session_id, org_id) sin crear otro core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//
// Inicialización (una vez en main):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//
// Con contexto:
//
//	logger.From(ctx).Info("key resolved", logger.KeyID(id), logger.State(st))
package logger
