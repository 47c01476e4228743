package customer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/crm"
	"github.com/warp/sales-engine/crm/store"
	"github.com/warp/sales-engine/customer"
)

func newTestService() *customer.Service {
	return customer.NewService(store.NewTxMemory())
}

func TestCreateAccount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, crm.NewAccount{Name: "   "})
	assert.ErrorIs(t, err, crm.ErrValidation)

	acct, err := svc.CreateAccount(ctx, crm.NewAccount{Name: " Contoso ", EmailAddress1: "ap@contoso.example"})
	require.NoError(t, err)
	assert.Equal(t, "Contoso", acct.Name)
	assert.Equal(t, crm.AccountActive, acct.StateCode)

	got, err := svc.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.EmailAddress1, got.EmailAddress1)
}

func TestCreateContact_ParentMustExist(t *testing.T) {
	// GIVEN: No account with id "ghost"
	// WHEN: Creating a contact under it
	// THEN: NotFoundError and no contact is stored

	svc := newTestService()
	ctx := context.Background()

	_, err := svc.CreateContact(ctx, crm.NewContact{LastName: "Lee", ParentCustomerID: "ghost"})
	assert.True(t, crm.IsNotFound(err))

	all, err := svc.ListContacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateContact_NeedsAName(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateContact(context.Background(), crm.NewContact{EmailAddress1: "x@example.com"})
	assert.ErrorIs(t, err, crm.ErrValidation)
}

func TestLinkContactToAccount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, crm.NewAccount{Name: "Fabrikam"})
	require.NoError(t, err)
	c, err := svc.CreateContact(ctx, crm.NewContact{FirstName: "Ana"})
	require.NoError(t, err)

	byAccount, err := svc.ListContactsByAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, byAccount)

	linked, err := svc.LinkContactToAccount(ctx, c.ID, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, linked.ParentCustomerID)

	byAccount, err = svc.ListContactsByAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, c.ID, byAccount[0].ID)

	_, err = svc.LinkContactToAccount(ctx, c.ID, "ghost")
	assert.True(t, crm.IsNotFound(err))
}

func TestCheckCustomer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	acct, err := svc.CreateAccount(ctx, crm.NewAccount{Name: "Fabrikam"})
	require.NoError(t, err)
	c, err := svc.CreateContact(ctx, crm.NewContact{LastName: "Lee"})
	require.NoError(t, err)

	assert.NoError(t, svc.CheckCustomer(ctx, crm.CustomerAccount, acct.ID))
	assert.NoError(t, svc.CheckCustomer(ctx, crm.CustomerContact, c.ID))
	assert.True(t, crm.IsNotFound(svc.CheckCustomer(ctx, crm.CustomerAccount, c.ID)))
	assert.ErrorIs(t, svc.CheckCustomer(ctx, "vendor", acct.ID), crm.ErrValidation)
}
