package logger

import "go.uber.org/zap"

// S retorna el SugaredLogger del singleton.
// Útil para logs rápidos con formato printf-style.
//
// Ejemplo:
//
//	logger.S().Infof("registro %s mutado", recordID)
//	logger.S().Errorw("sync falló", "error", err, "record_id", recordID)
func S() *zap.SugaredLogger {
	return L().Sugar()
}
