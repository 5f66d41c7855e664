package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sankofadev/ripoti/core/user"
)

var errInvNotFoundInCtx = errors.New("invite object not found in echo.Context")

type inviteApi struct {
	svc user.Service
}

func registerInviteAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc user.Service) {
	api := inviteApi{svc: svc}

	ig := g.Group("/invites", jwt, adminMiddleware())
	ig.GET("", api.query)
	ig.POST("", api.create)

	dg := ig.Group("/:id", ctxInviteMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
}

// Handlers

func (api *inviteApi) query(ctx echo.Context) error {
	filter := new(user.InviteQueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.Invite{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	invites, err := api.svc.QueryInvites(ctx.Request().Context(), ctxUsr, filter, ordering.Orderings...)
	if err != nil {
		return err
	}
	if invites == nil {
		invites = []user.Invite{}
	}
	return ctx.JSON(http.StatusOK, invites)
}

func (api *inviteApi) create(ctx echo.Context) error {
	var data user.NewInvite
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewInvite")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	inv, err := api.svc.CreateInvite(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, inv)
}

func (api *inviteApi) retrieve(ctx echo.Context) error {
	inv, ok := ctx.Get("object").(user.Invite)
	if !ok {
		return errors.Wrap(errInvNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *inviteApi) update(ctx echo.Context) error {
	inv, ok := ctx.Get("object").(user.Invite)
	if !ok {
		return errors.Wrap(errInvNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateInvite
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateInvite")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	inv, err = api.svc.UpdateInvite(ctx.Request().Context(), ctxUsr, inv, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *inviteApi) destroy(ctx echo.Context) error {
	inv, ok := ctx.Get("object").(user.Invite)
	if !ok {
		return errors.Wrap(errInvNotFoundInCtx, "retrieving object from context")
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.DeleteInvite(ctx.Request().Context(), ctxUsr, inv); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func ctxInviteMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			inv, err := svc.GetInviteByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == user.ErrInviteNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding invitation by ID")
			}
			ctx.Set("object", inv)
			return next(ctx)
		}
	}
}
