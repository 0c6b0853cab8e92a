package shopify

const productSetMutation = `mutation ProductSet($input: ProductSetInput!) {
  productSet(synchronous: true, input: $input) {
    product {
      id
      handle
      variants(first: 250) {
        nodes {
          id
          selectedOptions { name value }
          inventoryItem { id }
        }
      }
    }
    userErrors { field message code }
  }
}`

const productUpdateMutation = `mutation ProductUpdate($product: ProductUpdateInput!) {
  productUpdate(product: $product) {
    product { id }
    userErrors { field message }
  }
}`

const variantsBulkCreateMutation = `mutation VariantsCreate($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkCreate(productId: $productId, variants: $variants) {
    productVariants {
      id
      selectedOptions { name value }
      inventoryItem { id }
    }
    userErrors { field message code }
  }
}`

const variantsBulkUpdateMutation = `mutation VariantsUpdate($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    productVariants { id }
    userErrors { field message code }
  }
}`

const variantsBulkDeleteMutation = `mutation VariantsDelete($productId: ID!, $variantsIds: [ID!]!) {
  productVariantsBulkDelete(productId: $productId, variantsIds: $variantsIds) {
    product { id }
    userErrors { field message code }
  }
}`

const variantInventoryItemQuery = `query VariantInventoryItem($id: ID!) {
  productVariant(id: $id) {
    id
    inventoryItem { id }
  }
}`

const inventoryItemVariantQuery = `query InventoryItemVariant($id: ID!) {
  inventoryItem(id: $id) {
    id
    variant { id }
  }
}`

const locationsQuery = `query Locations {
  locations(first: 50) {
    nodes { id isActive fulfillsOnlineOrders }
  }
}`

const inventorySetQuantitiesMutation = `mutation InventorySet($input: InventorySetQuantitiesInput!) {
  inventorySetQuantities(input: $input) {
    inventoryAdjustmentGroup { id }
    userErrors { field message code }
  }
}`

const productMediaQuery = `query ProductMedia($id: ID!) {
  product(id: $id) {
    media(first: 250) {
      nodes { id }
    }
  }
}`

const productDeleteMediaMutation = `mutation DeleteMedia($productId: ID!, $mediaIds: [ID!]!) {
  productDeleteMedia(productId: $productId, mediaIds: $mediaIds) {
    deletedMediaIds
    mediaUserErrors { field message code }
  }
}`

const productCreateMediaMutation = `mutation CreateMedia($productId: ID!, $media: [CreateMediaInput!]!) {
  productCreateMedia(productId: $productId, media: $media) {
    media { id }
    mediaUserErrors { field message code }
  }
}`
