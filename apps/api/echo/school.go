package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

type schoolApi struct {
	svc     *school.Service
	userSvc *user.Service
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *school.Service, userSvc *user.Service) {
	api := schoolApi{svc: svc, userSvc: userSvc}

	cg := g.Group("/classes", jwt)
	cg.GET("", api.listClasses)
	cg.POST("", api.createClass, adminMiddleware())
	cg.GET("/:id", api.retrieveClass)
	cg.PUT("/:id", api.updateClass, adminMiddleware())
	cg.DELETE("/:id", api.destroyClass, adminMiddleware())
	cg.GET("/:id/roster", api.roster, staffMiddleware())

	sg := g.Group("/subjects", jwt)
	sg.GET("", api.listSubjects)
	sg.POST("", api.createSubject, adminMiddleware())
	sg.GET("/:id", api.retrieveSubject)
	sg.PUT("/:id", api.updateSubject, adminMiddleware())
	sg.DELETE("/:id", api.destroySubject, adminMiddleware())

	ag := g.Group("/announcements", jwt)
	ag.GET("", api.listAnnouncements)
	ag.POST("", api.createAnnouncement, staffMiddleware())
	ag.DELETE("/:id", api.destroyAnnouncement, staffMiddleware())
}

// Classes

func (api *schoolApi) listClasses(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	classes, err := api.svc.ListClasses(ctx.Request().Context(), sess, ctx.QueryParam("teacherId"))
	if err != nil {
		return errors.Wrap(err, "listing classes")
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *schoolApi) createClass(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data school.ClassInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassInput")
	}
	class, err := api.svc.CreateClass(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, class)
}

func (api *schoolApi) retrieveClass(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	class, err := api.svc.GetClass(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	return ctx.JSON(http.StatusOK, class)
}

func (api *schoolApi) updateClass(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data school.ClassInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ClassInput")
	}
	class, err := api.svc.UpdateClass(ctx.Request().Context(), sess, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, class)
}

func (api *schoolApi) destroyClass(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteClass(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *schoolApi) roster(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	class, err := api.svc.GetClass(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	students, err := api.userSvc.Roster(ctx.Request().Context(), class.ID)
	if err != nil {
		return errors.Wrap(err, "getting roster")
	}
	return ctx.JSON(http.StatusOK, students)
}

// Subjects

func (api *schoolApi) listSubjects(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var filter school.SubjectFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []school.Subject{})
	}
	subjects, err := api.svc.ListSubjects(ctx.Request().Context(), sess, filter)
	if err != nil {
		return errors.Wrap(err, "listing subjects")
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *schoolApi) createSubject(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data school.SubjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubjectInput")
	}
	subject, err := api.svc.CreateSubject(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, subject)
}

func (api *schoolApi) retrieveSubject(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	subject, err := api.svc.GetSubject(ctx.Request().Context(), sess, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting subject")
	}
	return ctx.JSON(http.StatusOK, subject)
}

func (api *schoolApi) updateSubject(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data school.SubjectInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubjectInput")
	}
	subject, err := api.svc.UpdateSubject(ctx.Request().Context(), sess, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating subject")
	}
	return ctx.JSON(http.StatusOK, subject)
}

func (api *schoolApi) destroySubject(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteSubject(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Announcements

func (api *schoolApi) listAnnouncements(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	announcements, err := api.svc.ListAnnouncements(ctx.Request().Context(), sess)
	if err != nil {
		return errors.Wrap(err, "listing announcements")
	}
	return ctx.JSON(http.StatusOK, announcements)
}

func (api *schoolApi) createAnnouncement(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	var data school.AnnouncementInput
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AnnouncementInput")
	}
	announcement, err := api.svc.CreateAnnouncement(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "creating announcement")
	}
	return ctx.JSON(http.StatusCreated, announcement)
}

func (api *schoolApi) destroyAnnouncement(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.DeleteAnnouncement(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting announcement")
	}
	return ctx.NoContent(http.StatusNoContent)
}
