package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"loyaltyplane/pkg/errutil"
	"loyaltyplane/services/program"
)

// errorHandler turns service errors collected on the context into JSON
// responses. Overlap conflicts keep their structured payload so the caller
// can explain which program blocked the launch.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		ginErr := c.Errors.Last()
		if ginErr == nil {
			return
		}
		err := ginErr.Err

		var conflict *program.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"error": gin.H{
					"code":    errutil.StatusConflict,
					"message": conflict.Error(),
				},
				"overlaps":                 conflict.Result.Overlaps,
				"always_on_conflict":       conflict.Result.AlwaysOnConflict,
				"conflicting_program_name": conflict.Result.ConflictingProgramName,
			})
			return
		}

		var base errutil.BaseError
		if errors.As(err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		zap.L().Error("unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": "internal error",
			},
		})
	}
}
